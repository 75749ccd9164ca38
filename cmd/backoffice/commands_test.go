package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	reportStart, reportEnd, reportFormat, reportOut = "", "", "csv", ""
	metricsStart, metricsEnd = "", ""
	adminEmail, adminName, adminPassword = "", "", ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedDatabase points DATABASE_URL at a fresh store with one active and one
// cancelled subscription created in January 2026.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DATABASE_URL", path)
	t.Setenv(adminPasswordEnv, "")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	user := &store.User{Email: "learner@example.org", Name: "Jane Learner"}
	require.NoError(t, s.CreateUser(ctx, user))
	product := &store.Product{Name: "Career Coaching", Active: true}
	require.NoError(t, s.CreateProduct(ctx, product))
	price := &store.Price{ProductID: product.ID, UnitAmount: 2500, Interval: "month"}
	require.NoError(t, s.CreatePrice(ctx, price))

	cancelled := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	for _, sub := range []*store.Subscription{
		{UserID: user.ID, ProductID: product.ID, PriceID: price.ID, Quantity: 1, CreatedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
		{UserID: user.ID, ProductID: product.ID, PriceID: price.ID, Quantity: 2, CreatedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), CancelledAt: &cancelled},
	} {
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "VCC back office 1.2.3")
	assert.Contains(t, out, "Built: 2026-01-01")
	assert.Contains(t, out, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, out, "Built:")
	assert.NotContains(t, out, "Commit:")
}

func TestReportCmdWritesCSV(t *testing.T) {
	seedDatabase(t)

	out, err := execute(t, "report", "--start", "2026-01-01", "--end", "2026-02-01")
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader([]byte(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Subscription ID", records[0][0])
	assert.Equal(t, "Jane Learner", records[1][1])
}

func TestReportCmdWritesFile(t *testing.T) {
	seedDatabase(t)
	dest := filepath.Join(t.TempDir(), "report.pdf")

	_, err := execute(t, "report", "--start", "2026-01-01", "--end", "2026-02-01", "--format", "pdf", "--out", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestReportCmdValidation(t *testing.T) {
	seedDatabase(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing dates", []string{"report", "--start", "2026-01-01"}, "--start and --end are required"},
		{"bad date", []string{"report", "--start", "01/01/2026", "--end", "2026-02-01"}, "--start must be YYYY-MM-DD"},
		{"bad format", []string{"report", "--start", "2026-01-01", "--end", "2026-02-01", "--format", "xlsx"}, `unsupported report format "xlsx"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMetricsCmd(t *testing.T) {
	seedDatabase(t)

	out, err := execute(t, "metrics", "--start", "2026-01-01", "--end", "2026-02-01")
	require.NoError(t, err)

	var got struct {
		TotalActiveSubscriptions    int `json:"totalActiveSubscriptions"`
		TotalCancelledSubscriptions int `json:"totalCancelledSubscriptions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.TotalActiveSubscriptions)
	assert.Equal(t, 1, got.TotalCancelledSubscriptions)
}

func TestMetricsCmdRejectsMongoURI(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/vcc")

	_, err := execute(t, "metrics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI points at MongoDB")
}

func TestCreateAdminCmd(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, "create-admin", "--email", "Ops@VCC.org.au", "--name", "Ops Team", "--password", "correct-horse-battery")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin user Ops@VCC.org.au")

	out, err = execute(t, "create-admin", "--email", "learner@example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "Promoted learner@example.org to admin")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ops, err := s.GetUserByEmail(context.Background(), "ops@vcc.org.au")
	require.NoError(t, err)
	require.NotNil(t, ops)
	assert.Equal(t, store.RoleAdmin, ops.Role)
	assert.Equal(t, "Ops Team", ops.Name)
	assert.True(t, auth.CheckPasswordHash("correct-horse-battery", ops.PasswordHash))

	learner, err := s.GetUserByEmail(context.Background(), "learner@example.org")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, learner.Role)
	assert.Empty(t, learner.PasswordHash)
}

func TestCreateAdminCmdPasswordFromEnv(t *testing.T) {
	path := seedDatabase(t)
	t.Setenv(adminPasswordEnv, "from-the-environment")

	_, err := execute(t, "create-admin", "--email", "finance@vcc.org.au")
	require.NoError(t, err)

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	u, err := s.GetUserByEmail(context.Background(), "finance@vcc.org.au")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "finance", u.Name)
	assert.True(t, auth.CheckPasswordHash("from-the-environment", u.PasswordHash))
}

func TestCreateAdminCmdErrors(t *testing.T) {
	seedDatabase(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid email", []string{"create-admin", "--email", "not-an-email", "--password", "long-enough-password"}, "not a valid address"},
		{"short password", []string{"create-admin", "--email", "a@vcc.org.au", "--password", "short"}, "at least 12 characters"},
		{"new user without password", []string{"create-admin", "--email", "b@vcc.org.au"}, "a password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
