package negotiation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/models"
)

type notice struct {
	event   string
	title   string
	message string
}

func washCreated(client string) notice {
	return notice{models.EventWashCreated, "Wash created",
		fmt.Sprintf("%s, you have created a new wash request. Pick a washer nearby to continue.", client)}
}

func offerSent(washer, client string) notice {
	return notice{models.EventOfferSent, "New offer",
		fmt.Sprintf("%s, you have a new offer available from %s.", washer, client)}
}

func priceProposed(client, washer string, price decimal.Decimal) notice {
	return notice{models.EventPriceProposed, "Price offer",
		fmt.Sprintf("Hello %s, %s sent a price offer of %s. Confirm it to start the wash.", client, washer, price.StringFixed(2))}
}

func priceAccepted(washer, client string) notice {
	return notice{models.EventPriceAccepted, "Price accepted",
		fmt.Sprintf("Hey %s, your price offer for %s has been accepted.", washer, client)}
}

func offerAcceptedClient(client, washer string) notice {
	return notice{models.EventOfferAccepted, "Wash accepted",
		fmt.Sprintf("Hello %s, your wash has been accepted by %s.", client, washer)}
}

func offerAcceptedWasher(washer string) notice {
	return notice{models.EventOfferAccepted, "Offer accepted",
		fmt.Sprintf("Hey %s, you have accepted an offer. Head over to complete the wash.", washer)}
}

func washVerified(washer string) notice {
	return notice{models.EventWashVerified, "Wash started",
		fmt.Sprintf("Hey %s, the client confirmed your code. The wash has started.", washer)}
}

func washCompleted(client string) notice {
	return notice{models.EventWashCompleted, "Wash completed",
		fmt.Sprintf("Hello %s, your wash is complete. You can now pay your washer.", client)}
}

func reviewRequested(client, washer string) notice {
	return notice{models.EventReviewRequested, "Review requested",
		fmt.Sprintf("Hey %s, %s requested a review on your wash.", client, washer)}
}

func reviewCreated(washer string, rating int) notice {
	return notice{models.EventReviewCreated, "New review",
		fmt.Sprintf("Hey %s, you received a %d star review.", washer, rating)}
}
