package mocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-library/internal/data"
)

func TestBookUpdateVersionCheck(t *testing.T) {
	store := NewStore()
	models := store.Models()

	book := &data.Book{Title: "Dom Casmurro", Author: "Machado de Assis", TotalQuantity: 3, AvailableQuantity: 3}
	store.AddBook(book)

	first, err := models.Books.Get(book.ID)
	require.NoError(t, err)
	second, err := models.Books.Get(book.ID)
	require.NoError(t, err)

	first.TotalQuantity = 5
	require.NoError(t, models.Books.Update(first))

	// The second copy still carries the old version, so its write loses.
	second.TotalQuantity = 7
	err = models.Books.Update(second)
	assert.ErrorIs(t, err, data.ErrEditConflict)

	stored := store.Book(book.ID)
	assert.Equal(t, 5, stored.TotalQuantity)
}
