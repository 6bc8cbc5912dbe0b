package negotiation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

func bundleTag(id uuid.UUID) string {
	return fmt.Sprintf("[Bundle ID: %s]", id)
}

func proposalMessage(bundleID uuid.UUID, products []*product.Product, total values.Money, offer *values.Money) string {
	var b strings.Builder
	b.WriteString("📦 Bundle Request\n\n")
	for i, p := range products {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• %s (%s)", p.Title, p.Price)
	}
	fmt.Fprintf(&b, "\n\nTotal: %s", total)
	if offer != nil {
		fmt.Fprintf(&b, "\nMy offer: %s", offer)
	}
	b.WriteString("\n\n")
	b.WriteString(bundleTag(bundleID))
	return b.String()
}

func acceptedMessage(bundleID uuid.UUID, ttlHours int) string {
	return fmt.Sprintf("✅ Bundle Accepted!\n\nI've reserved these items for you for %d hours. Let's complete the deal!\n\n%s",
		ttlHours, bundleTag(bundleID))
}

func declinedMessage(bundleID uuid.UUID) string {
	return "Bundle request declined.\n\n" + bundleTag(bundleID)
}

func expiredMessage(bundleID uuid.UUID) string {
	return "⌛ Bundle reservation expired. The items are available to other buyers again.\n\n" + bundleTag(bundleID)
}
