//go:build integration

package eventstore_test

import (
	"testing"

	"github.com/thromel/URLShortener-sub000/internal/eventstore"
	"github.com/thromel/URLShortener-sub000/internal/testutils"
)

func TestPostgresStore(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)

	runStoreContract(t, func(t *testing.T) eventstore.Store {
		env.Reset(t)
		return eventstore.NewPostgresStore(env.Postgres)
	})
}
