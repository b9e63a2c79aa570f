package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLineItems(t *testing.T) {
	input := []LineItem{
		{ItemType: " song ", ItemID: 1, Quantity: 2, UnitPrice: dec("1.50")},
		{ItemType: ItemMerchandise, ItemID: 9, Quantity: 1, UnitPrice: decimal.Zero},
	}

	resolved, err := ResolveLineItems(input)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, ItemSong, resolved[0].ItemType)
	assert.Equal(t, ItemType(" song "), input[0].ItemType, "input is not modified")

	// snapshot does not alias the caller's slice
	input[1].UnitPrice = dec("5.00")
	assert.True(t, resolved[1].UnitPrice.IsZero())
}

func TestResolveLineItems_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		items   []LineItem
		message string
	}{
		{"empty", nil, "at least one item"},
		{"zero quantity", []LineItem{{ItemType: ItemSong, ItemID: 1, Quantity: 0, UnitPrice: dec("1")}}, "items[0].quantity"},
		{"negative quantity", []LineItem{{ItemType: ItemSong, ItemID: 1, Quantity: -1, UnitPrice: dec("1")}}, "items[0].quantity"},
		{"negative price", []LineItem{{ItemType: ItemSong, ItemID: 1, Quantity: 1, UnitPrice: dec("-0.01")}}, "items[0].unitPrice"},
		{"unknown type", []LineItem{{ItemType: "TICKET", ItemID: 1, Quantity: 1, UnitPrice: dec("1")}}, "items[0].itemType"},
		{"missing id", []LineItem{{ItemType: ItemAlbum, ItemID: 0, Quantity: 1, UnitPrice: dec("1")}}, "items[0].itemId"},
		{"second line", []LineItem{
			{ItemType: ItemAlbum, ItemID: 1, Quantity: 1, UnitPrice: dec("1")},
			{ItemType: ItemAlbum, ItemID: 2, Quantity: 0, UnitPrice: dec("1")},
		}, "items[1].quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveLineItems(tt.items)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestResolveDraft(t *testing.T) {
	items := []LineItem{{ItemType: ItemSong, ItemID: 1, Quantity: 1, UnitPrice: dec("0.99")}}

	draft, err := ResolveDraft(OrderDraft{UserID: 1, Items: items, ShippingAddress: "  X  "})
	require.NoError(t, err)
	assert.Equal(t, "X", draft.ShippingAddress)

	_, err = ResolveDraft(OrderDraft{UserID: 0, Items: items, ShippingAddress: "X"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "userId")

	_, err = ResolveDraft(OrderDraft{UserID: 1, Items: items, ShippingAddress: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "shippingAddress")
}
