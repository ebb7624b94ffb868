package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"strategy-engine/internal/config"
	"strategy-engine/internal/dsl"
	"strategy-engine/internal/store"
	"strategy-engine/internal/strategy"
)

const (
	condSrc = "PRICE_ABOVE(So11111111111111111111111111111111111111112,300) AND (NOT PRICE_BELOW(EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v,10))"
	actSrc  = "BUY(So11111111111111111111111111111111111111112,5) AND LEND(EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v,100)"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg, err := NewRegistry(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return reg
}

func newVault(t *testing.T) *strategy.Vault {
	t.Helper()
	cond, err := dsl.CompileCondition(condSrc)
	if err != nil {
		t.Fatalf("CompileCondition returned error: %v", err)
	}
	act, err := dsl.CompileActions(actSrc)
	if err != nil {
		t.Fatalf("CompileActions returned error: %v", err)
	}
	s, err := strategy.New(cond, act, 60)
	if err != nil {
		t.Fatalf("strategy.New returned error: %v", err)
	}
	v := strategy.NewVault(s)
	if err := v.Deposit(1000); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	return v
}

func TestCreateGetSave(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	rec, err := reg.Create(ctx, "sol-breakout", newVault(t))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.Condition != condSrc || rec.Actions != actSrc {
		t.Fatalf("unexpected sources %q / %q", rec.Condition, rec.Actions)
	}

	got, err := reg.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Name != "sol-breakout" || got.Fingerprint != rec.Fingerprint {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Vault.Balance != 1000 || got.Vault.Strategy.ExecuteEverySeconds != 60 {
		t.Fatalf("unexpected vault %+v", got.Vault)
	}

	got.Vault.Strategy.LastExecutedAt = 1700000000
	if err := got.Vault.Withdraw(250); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if err := reg.Save(ctx, rec.ID, got.Vault); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	again, err := reg.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if again.Vault.Balance != 750 || again.Vault.Strategy.LastExecutedAt != 1700000000 {
		t.Fatalf("saved state not persisted: %+v", again.Vault)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	first, err := reg.Create(ctx, "a", newVault(t))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := reg.Create(ctx, "b", newVault(t)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	list, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 vaults, got %d", len(list))
	}

	if err := reg.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := reg.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := reg.Delete(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := reg.Save(ctx, uuid.New(), newVault(t)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on save, got %v", err)
	}
}

func TestCorruptRowIsReported(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	rec, err := reg.Create(ctx, "a", newVault(t))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := reg.store.DB().ExecContext(ctx, `UPDATE vaults SET data = ? WHERE id = ?`, []byte{1, 2, 3}, rec.ID.String()); err != nil {
		t.Fatalf("corrupting row failed: %v", err)
	}
	if _, err := reg.Get(ctx, rec.ID); !errors.Is(err, ErrCorrupt) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestListSkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	var ids []uuid.UUID
	for _, name := range []string{"bad-data", "healthy", "bad-time"} {
		rec, err := reg.Create(ctx, name, newVault(t))
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	if _, err := reg.store.DB().ExecContext(ctx, `UPDATE vaults SET data = ? WHERE id = ?`, []byte{1, 2, 3}, ids[0].String()); err != nil {
		t.Fatalf("corrupting row failed: %v", err)
	}
	if _, err := reg.store.DB().ExecContext(ctx, `UPDATE vaults SET updated_at = ? WHERE id = ?`, "yesterday", ids[2].String()); err != nil {
		t.Fatalf("corrupting row failed: %v", err)
	}

	if _, err := reg.Get(ctx, ids[2]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for bad timestamp, got %v", err)
	}
	list, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 1 || list[0].ID != ids[1] {
		t.Fatalf("expected only the healthy vault, got %d records", len(list))
	}
}
