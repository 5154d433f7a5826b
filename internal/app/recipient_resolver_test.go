package app

import (
	"context"
	"errors"
	"testing"

	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingDirectory struct{}

func (failingDirectory) FindContact(context.Context, recipient.Source, string) (*recipient.Contact, error) {
	return nil, errors.New("connection reset")
}

func TestRecipientResolver(t *testing.T) {
	dir := memstore.NewDirectory()
	seedContacts(dir)
	resolver := NewRecipientResolver(dir)
	ctx := context.Background()

	t.Run("resolves each category through its directory", func(t *testing.T) {
		tests := []struct {
			name      string
			ref       recipient.Ref
			wantEmail string
			wantName  string
		}{
			{"student", recipient.Student{ID: "S1"}, "sarah@uni.example", "Sarah Student"},
			{"user", recipient.User{ID: "U1"}, "una@uni.example", "Una User"},
			{"examiner primary", recipient.Examiner{ID: "E1"}, "ed@uni.example", "Ed Examiner"},
			{"examiner secondary fallback", recipient.Examiner{ID: "E2"}, "eve@home.example", "Eve Examiner"},
			{"panelist uses examiners", recipient.Panelist{ID: "E1"}, "ed@uni.example", "Ed Examiner"},
			{"reviewer uses examiners", recipient.Reviewer{ID: "E2"}, "eve@home.example", "Eve Examiner"},
			{"supervisor", recipient.Supervisor{ID: "ST1"}, "sam@uni.example", "Sam Supervisor"},
			{"chairperson fallback", recipient.Chairperson{ID: "ST2"}, "cleo@home.example", "Cleo Chair"},
			{"minutes secretary", recipient.MinutesSecretary{ID: "ST1"}, "sam@uni.example", "Sam Supervisor"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				addr, err := resolver.Resolve(ctx, tt.ref)
				require.NoError(t, err)
				assert.Equal(t, tt.wantEmail, addr.Email)
				assert.Equal(t, tt.wantName, addr.Name)
				require.NotNil(t, addr.ID)
			})
		}
	})

	t.Run("users do not fall back to secondary email", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, recipient.User{ID: "U2"})
		require.ErrorIs(t, err, recipient.ErrInvalidRecipient)
	})

	t.Run("external recipient passes through", func(t *testing.T) {
		addr, err := resolver.Resolve(ctx, recipient.External{Email: " guest@partner.example ", Name: "Guest"})
		require.NoError(t, err)
		assert.Equal(t, "guest@partner.example", addr.Email)
		assert.Nil(t, addr.ID)
	})

	t.Run("external recipient needs email and name", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, recipient.External{Email: "guest@partner.example"})
		require.ErrorIs(t, err, recipient.ErrInvalidRecipient)

		_, err = resolver.Resolve(ctx, recipient.External{Name: "Guest"})
		require.ErrorIs(t, err, recipient.ErrInvalidRecipient)
	})

	t.Run("unknown id is recipient not found", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, recipient.Supervisor{ID: "nobody"})
		require.ErrorIs(t, err, recipient.ErrRecipientNotFound)
	})

	t.Run("empty id and nil ref are invalid", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, recipient.Student{})
		require.ErrorIs(t, err, recipient.ErrInvalidRecipient)

		_, err = resolver.Resolve(ctx, nil)
		require.ErrorIs(t, err, recipient.ErrInvalidRecipient)
	})

	t.Run("directory failures are not reported as not found", func(t *testing.T) {
		_, err := NewRecipientResolver(failingDirectory{}).Resolve(ctx, recipient.Student{ID: "S1"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, recipient.ErrRecipientNotFound)
	})
}

func TestFromCategory(t *testing.T) {
	ref, err := recipient.FromCategory("panelist", "E1", "", "")
	require.NoError(t, err)
	assert.Equal(t, recipient.Panelist{ID: "E1"}, ref)

	ref, err = recipient.FromCategory(recipient.CategoryExternal, "ignored", "a@b.example", "A")
	require.NoError(t, err)
	assert.Equal(t, recipient.External{Email: "a@b.example", Name: "A"}, ref)

	_, err = recipient.FromCategory("DEAN", "X", "", "")
	require.ErrorIs(t, err, recipient.ErrInvalidRecipient)
}
