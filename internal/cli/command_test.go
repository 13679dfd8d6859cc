package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	migrated  bool
	unlocked  string
	unblocked string
	unlockErr error
	closed    bool
}

func (f *fakeBackend) Migrate(context.Context) error {
	f.migrated = true
	return nil
}

func (f *fakeBackend) MigrationStatus(context.Context) error { return nil }

func (f *fakeBackend) Unlock(_ context.Context, email string) error {
	f.unlocked = email
	return f.unlockErr
}

func (f *fakeBackend) Unblock(_ context.Context, address string) error {
	f.unblocked = address
	return nil
}

func (f *fakeBackend) Sweep(context.Context) map[string]int64 {
	return map[string]int64{"sessions": 4, "handshakes": 1}
}

func (f *fakeBackend) Close() { f.closed = true }

func execute(t *testing.T, b *fakeBackend, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(func(context.Context) (Backend, error) { return b, nil }, &out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateUp(t *testing.T) {
	b := &fakeBackend{}
	out, err := execute(t, b, "migrate", "up")

	require.NoError(t, err)
	assert.True(t, b.migrated)
	assert.True(t, b.closed)
	assert.Contains(t, out, "migrations applied")
}

func TestUnlock(t *testing.T) {
	b := &fakeBackend{}
	out, err := execute(t, b, "unlock", "alice@example.com")

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", b.unlocked)
	assert.Contains(t, out, "unlocked alice@example.com")

	b = &fakeBackend{unlockErr: models.ErrNotFound}
	_, err = execute(t, b, "unlock", "ghost@example.com")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, b.closed)

	_, err = execute(t, &fakeBackend{}, "unlock")
	assert.Error(t, err)
}

func TestUnblock_ValidatesAddress(t *testing.T) {
	b := &fakeBackend{}
	_, err := execute(t, b, "unblock", "2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", b.unblocked)

	b = &fakeBackend{}
	_, err = execute(t, b, "unblock", "not-an-address")
	assert.Error(t, err)
	assert.Empty(t, b.unblocked)
}

func TestSweep_PrintsSortedCounts(t *testing.T) {
	out, err := execute(t, &fakeBackend{}, "sweep")

	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "handshakes"), strings.Index(out, "sessions"))
	assert.Contains(t, out, "4")
}

func TestOpenFailureIsReported(t *testing.T) {
	cmd := NewRootCommand(func(context.Context) (Backend, error) {
		return nil, errors.New("DB_PASSWORD is required")
	}, &bytes.Buffer{})
	cmd.SetArgs([]string{"sweep"})

	assert.EqualError(t, cmd.Execute(), "DB_PASSWORD is required")
}
