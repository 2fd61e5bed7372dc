package acceptance

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikerental/api"
	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/identity"
	"github.com/semanticallynull/bikerental/internal/middleware"
	"github.com/semanticallynull/bikerental/internal/o11y"
	"github.com/semanticallynull/bikerental/lifecycle"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/notify"
	"github.com/semanticallynull/bikerental/snapshot"
	"github.com/semanticallynull/bikerental/trip"
	"github.com/semanticallynull/bikerental/user"
)

type TestServer struct {
	DB       *sqlx.DB
	URL      string
	Router   *gin.Engine
	Broker   *notify.Broker
	Identity *identity.FakeClient
}

// NewTestServer wires the real repositories against the database named by
// DATABASE_URL. The suite is skipped when it is unset.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	applySchema(t, db)
	cleanupTestData(t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &o11y.Observability{Logger: logger, Registry: prometheus.NewRegistry()}

	br := bike.NewRepository(db)
	lr := location.NewRepository(db)
	tr := trip.NewRepository(db)
	ur := user.NewRepository(db)

	broker := notify.NewBroker(16, logger)
	idp := identity.NewFakeClient()

	manager := lifecycle.New(br, tr, lr,
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(lifecycle.NewMetrics(obs.Registry)),
		lifecycle.WithRetries(3, 10*time.Millisecond),
	)

	a := api.New(api.Deps{
		Bikes:     br,
		Trips:     tr,
		Locations: lr,
		Users:     ur,
		Snapshots: snapshot.New(snapshot.NewMemoryStore(), lr, time.Nanosecond, logger),
		Manager:   manager,
		Identity:  idp,
		Broker:    broker,
		Obs:       obs,
	}, fakeAuthMiddleware())

	return &TestServer{
		DB:       db,
		URL:      dbURL,
		Router:   a.Router(),
		Broker:   broker,
		Identity: idp,
	}
}

func applySchema(t *testing.T, db *sqlx.DB) {
	t.Helper()
	schema, err := os.ReadFile("../db/schema.sql")
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE trip, bike, location, "user" RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("failed to clean test data: %v", err)
	}
}

// fakeAuthMiddleware takes the user id from the X-User-ID header.
func fakeAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-User-ID"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			return
		}
		c.Set(middleware.UserIDKey, id)
		c.Set(middleware.TokenKey, "token-"+id.String())
		c.Next()
	}
}

func (ts *TestServer) do(method, path string, body any, userID uuid.UUID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) GET(path string, userID uuid.UUID) *httptest.ResponseRecorder {
	return ts.do(http.MethodGet, path, nil, userID)
}

func (ts *TestServer) POST(path string, body any, userID uuid.UUID) *httptest.ResponseRecorder {
	return ts.do(http.MethodPost, path, body, userID)
}

func (ts *TestServer) PUT(path string, body any, userID uuid.UUID) *httptest.ResponseRecorder {
	return ts.do(http.MethodPut, path, body, userID)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return v
}

func (ts *TestServer) CreateTestLocation(t *testing.T, name string, lat, lng float64) int64 {
	t.Helper()
	var id int64
	err := ts.DB.Get(&id, `
		INSERT INTO location (location_name, address, latitude, longitude)
		VALUES ($1, 'Test Address', $2, $3)
		RETURNING id
	`, name, lat, lng)
	if err != nil {
		t.Fatalf("failed to create test location: %v", err)
	}
	return id
}

func (ts *TestServer) CreateTestBike(t *testing.T, model bike.Model, status bike.Status, locationID *int64) int64 {
	t.Helper()
	var id int64
	err := ts.DB.Get(&id, `
		INSERT INTO bike (model, status, current_location_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, model, status, locationID)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id
}

// CreateTestTrip inserts a trip directly, bypassing the lifecycle rules.
func (ts *TestServer) CreateTestTrip(t *testing.T, bikeID int64, userID uuid.UUID, start, end *int64, startTime time.Time, endTime *time.Time) uuid.UUID {
	t.Helper()
	status := trip.Active
	if endTime != nil {
		status = trip.Completed
	}
	id := uuid.New()
	_, err := ts.DB.Exec(`
		INSERT INTO trip (id, bike_id, user_id, start_location_id, end_location_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, bikeID, userID, start, end, startTime, endTime, status)
	if err != nil {
		t.Fatalf("failed to create test trip: %v", err)
	}
	return id
}

func (ts *TestServer) GetBike(t *testing.T, id int64) bike.Bike {
	t.Helper()
	b, err := bike.NewRepository(ts.DB).GetBike(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load bike %d: %v", id, err)
	}
	return b
}

func ptr[T any](v T) *T { return &v }
