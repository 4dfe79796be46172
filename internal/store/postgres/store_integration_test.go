package postgres

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
	"qms/clinic-queue/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConcurrentTicketsPerUser(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inserted, err := st.InsertTicket(ctx, models.Ticket{UserID: "U1", DisplayName: "Taro", TicketNumber: n + 1, IssuedAt: "09:00"})
			if err != nil {
				t.Errorf("insert ticket: %v", err)
			}
			results <- inserted
		}(i)
	}
	wg.Wait()
	close(results)

	var created int
	for inserted := range results {
		if inserted {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one ticket for the user, got %d", created)
	}
}

func TestConcurrentIncrementsAreSerialized(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithTx(ctx, func(q store.Queries) error {
				value, err := q.IncrementCounter(ctx, models.CounterWaiting)
				if err != nil {
					return err
				}
				return q.InsertQueueRows(ctx, value, value)
			})
			if err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	counters, err := st.GetCounters(ctx)
	if err != nil {
		t.Fatalf("get counters: %v", err)
	}
	max, err := st.MaxQueueNumber(ctx)
	if err != nil {
		t.Fatalf("max queue number: %v", err)
	}
	if counters.Waiting != 10 || max != 10 {
		t.Fatalf("waiting=%d max=%d, want 10/10", counters.Waiting, max)
	}
}

func TestArchiveAndFollowers(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if err := st.UpsertFollower(ctx, models.Follower{UserID: "U1", DisplayName: "Taro"}); err != nil {
		t.Fatalf("upsert follower: %v", err)
	}
	if err := st.SetExaminationNumber(ctx, "U1", "A-100"); err != nil {
		t.Fatalf("set examination number: %v", err)
	}
	if _, err := st.InsertTicket(ctx, models.Ticket{UserID: "U1", DisplayName: "Taro", TicketNumber: 1, IssuedAt: "09:00"}); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}

	holders, err := st.ListTicketHolders(ctx)
	if err != nil {
		t.Fatalf("list holders: %v", err)
	}
	if len(holders) != 1 || holders[0].ExaminationNumber == nil || *holders[0].ExaminationNumber != "A-100" {
		t.Fatalf("holders=%+v", holders)
	}

	archived, err := st.ArchiveTickets(ctx, "2024-01-15")
	if err != nil || archived != 1 {
		t.Fatalf("archive=%d,%v", archived, err)
	}
	archived, _ = st.ArchiveTickets(ctx, "2024-01-15")
	if archived != 0 {
		t.Fatalf("second archive=%d, want 0", archived)
	}

	if err := st.RemoveClosedDay(ctx, "2024-05-03"); !errors.Is(err, store.ErrClosedDayNotFound) {
		t.Fatalf("remove closed day err=%v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("QUEUE_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("QUEUE_TEST_DB_DSN not set")
	}

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("connect schema: %v", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		admin.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	}
	return NewStore(pool), cleanup
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
