package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosphere/backend/internal/models"
)

type mapGetter map[uuid.UUID]*models.Session

func (m mapGetter) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func TestAuthorize(t *testing.T) {
	owner := uuid.New()
	s := &models.Session{ID: uuid.New(), UserID: owner, Status: models.SessionStatusActive}
	store := mapGetter{s.ID: s}
	ctx := context.Background()

	got, err := Authorize(ctx, store, s.ID, owner, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = Authorize(ctx, store, s.ID, uuid.New(), models.RoleUser)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = Authorize(ctx, store, s.ID, uuid.New(), models.RoleAdmin)
	assert.NoError(t, err)

	_, err = Authorize(ctx, store, uuid.New(), owner, models.RoleUser)
	assert.ErrorIs(t, err, ErrNotFound)
}
