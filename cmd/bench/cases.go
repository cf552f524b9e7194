// README: Bench cases for the dispatch flow; includes env, HTTP, websocket, concurrency and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fretlink/internal/infra"
	"fretlink/internal/realtime"
	"fretlink/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"

	benchVehicle = "bench-truck"
	benchClient  = "bench-client"
	benchAdmin   = "bench-admin"
	tokenTTL     = time.Hour
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// state carried between cases
	orderID types.ID
	driver  types.ID
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func driverID(i int) types.ID {
	return types.ID(fmt.Sprintf("bench-driver-%d", i))
}

func (r *Runner) token(uid types.ID, role types.Role) (string, error) {
	if r.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	return infra.SignJWT(r.cfg.JWTSecret, string(uid), string(role), tokenTTL)
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "Seed: bench users and vehicle", Run: seed},

		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.do(ctx, http.MethodGet, "/health", "", nil)
			return expect(status, latency, err, http.StatusOK)
		}},
		{Name: "API: metrics exposed", Run: func(ctx context.Context, r *Runner) Result {
			status, body, latency, err := r.do(ctx, http.MethodGet, "/metrics", "", nil)
			if err != nil || status != http.StatusOK {
				return expect(status, latency, err, http.StatusOK)
			}
			if !bytes.Contains(body, []byte("fretlink_http_requests_total")) {
				return Result{Status: statusFail, Latency: latency, Note: "fretlink metrics missing"}
			}
			return Result{Status: statusPass, Latency: latency}
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.do(ctx, http.MethodGet, "/api/orders", "", nil)
			return expect(status, latency, err, http.StatusUnauthorized)
		}},

		// Order flow
		{Name: "Order: client creates order", Run: createOrder},
		roleCase("Order: missing fields -> 400", http.MethodPost, "/api/orders", benchClient, types.RoleClient, map[string]any{}, http.StatusBadRequest),
		roleCase("Order: driver cannot create -> 403", http.MethodPost, "/api/orders", driverID(0), types.RoleDriver, orderBody(), http.StatusForbidden),
		{Name: "Concurrency: multi accept same order", Run: concurrentAccept},
		{Name: "Order: winner moves to driver_coming", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.driver == "" {
				return Result{Status: statusSkip, Note: "no accepted order"}
			}
			tok, err := r.token(r.driver, types.RoleDriver)
			if err != nil {
				return Result{Status: statusSkip, Note: err.Error()}
			}
			status, _, latency, err := r.do(ctx, http.MethodPost, "/api/orders/"+string(r.orderID)+"/status", tok, map[string]any{"status": "driver_coming"})
			return expect(status, latency, err, http.StatusOK)
		}},
		{Name: "Order: skipping ahead -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.driver == "" {
				return Result{Status: statusSkip, Note: "no accepted order"}
			}
			tok, err := r.token(r.driver, types.RoleDriver)
			if err != nil {
				return Result{Status: statusSkip, Note: err.Error()}
			}
			status, _, latency, err := r.do(ctx, http.MethodPost, "/api/orders/"+string(r.orderID)+"/status", tok, map[string]any{"status": "completed"})
			return expect(status, latency, err, http.StatusConflict)
		}},

		// Realtime
		{Name: "Realtime: ping -> pong", Run: wsPing},
		{Name: "Realtime: driver location visible in nearby", Run: wsLocationNearby},
		{Name: "Realtime: client track gets status snapshot", Run: wsTrackSnapshot},

		// Load
		{Name: "Perf: websocket location throughput", Run: wsLocationLoad},
		{Name: "Perf: order create throughput", Run: createLoad},
	}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func seed(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO vehicles (id, name, price_per_km, min_price) VALUES ($1, 'Bench truck', 500, 5000) ON CONFLICT (id) DO NOTHING`,
		benchVehicle,
	); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	users := map[types.ID]types.Role{benchClient: types.RoleClient, benchAdmin: types.RoleAdmin}
	for i := 0; i < r.cfg.Concurrency; i++ {
		users[driverID(i)] = types.RoleDriver
	}
	for id, role := range users {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO users (id, role, full_name) VALUES ($1, $2, $1) ON CONFLICT (id) DO NOTHING`,
			string(id), string(role),
		); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("users=%d", len(users))}
}

func orderBody() map[string]any {
	return map[string]any{
		"vehicleId":        benchVehicle,
		"serviceType":      "transport",
		"pickup":           map[string]any{"address": "Zone 4, Abidjan", "lat": 5.30, "lng": -3.99},
		"dropoff":          map[string]any{"address": "Yopougon, Abidjan", "lat": 5.34, "lng": -4.08},
		"cargoDescription": "10 pallets",
	}
}

func createOrder(ctx context.Context, r *Runner) Result {
	tok, err := r.token(benchClient, types.RoleClient)
	if err != nil {
		return Result{Status: statusSkip, Note: err.Error()}
	}
	status, body, latency, err := r.do(ctx, http.MethodPost, "/api/orders", tok, orderBody())
	if err != nil || status != http.StatusCreated {
		return expect(status, latency, err, http.StatusCreated)
	}
	var created struct {
		ID     types.ID `json:"id"`
		Number string   `json:"orderNumber"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return Result{Status: statusFail, Latency: latency, Note: "response has no order id"}
	}
	r.orderID = created.ID
	return Result{Status: statusPass, Latency: latency, Note: created.Number}
}

func roleCase(name, method, path string, uid types.ID, role types.Role, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			tok, err := r.token(uid, role)
			if err != nil {
				return Result{Status: statusSkip, Note: err.Error()}
			}
			status, _, latency, err := r.do(ctx, method, path, tok, body)
			return expect(status, latency, err, want)
		},
	}
}

// concurrentAccept races every bench driver on the same pending order; exactly one may win.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: statusSkip, Note: "no order created"}
	}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []types.ID
		losses int
	)
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		id := driverID(i)
		tok, err := r.token(id, types.RoleDriver)
		if err != nil {
			return Result{Status: statusSkip, Note: err.Error()}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/orders/"+string(r.orderID)+"/accept", tok, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if status == http.StatusOK {
				wins = append(wins, id)
			} else if status == http.StatusConflict {
				losses++
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("winners=%d conflicts=%d", len(wins), losses)
	if len(wins) != 1 {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	r.driver = wins[0]
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func (r *Runner) dial(ctx context.Context, uid types.ID, role types.Role) (*websocket.Conn, error) {
	tok, err := r.token(uid, role)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.wsURL(tok), nil)
	return conn, err
}

func send(conn *websocket.Conn, event string, data any) error {
	frame, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// await reads frames until one named event arrives or the deadline passes.
func await(conn *websocket.Conn, event string, within time.Duration) (realtime.Envelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(within))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return realtime.Envelope{}, err
		}
		env, err := realtime.Decode(frame)
		if err != nil {
			continue
		}
		if env.Event == event {
			return env, nil
		}
	}
}

func wsPing(ctx context.Context, r *Runner) Result {
	conn, err := r.dial(ctx, benchClient, types.RoleClient)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer conn.Close()
	start := time.Now()
	if err := send(conn, realtime.EventPing, nil); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if _, err := await(conn, realtime.EventPong, 3*time.Second); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func wsLocationNearby(ctx context.Context, r *Runner) Result {
	id := driverID(0)
	conn, err := r.dial(ctx, id, types.RoleDriver)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer conn.Close()
	if err := send(conn, realtime.EventDriverLocation, realtime.LocationReport{DriverID: id, Lat: 5.31, Lon: -4.0, Speed: 12}); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	tok, err := r.token(benchClient, types.RoleClient)
	if err != nil {
		return Result{Status: statusSkip, Note: err.Error()}
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, body, latency, err := r.do(ctx, http.MethodGet, "/api/drivers/nearby?lat=5.31&lng=-4.0&radius_km=1", tok, nil)
		if err != nil || status != http.StatusOK {
			return expect(status, latency, err, http.StatusOK)
		}
		if bytes.Contains(body, []byte(`"driverId":"`+string(id)+`"`)) {
			return Result{Status: statusPass, Latency: latency}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return Result{Status: statusFail, Note: "driver not listed"}
}

func wsTrackSnapshot(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: statusSkip, Note: "no order created"}
	}
	conn, err := r.dial(ctx, benchClient, types.RoleClient)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer conn.Close()
	start := time.Now()
	if err := send(conn, realtime.EventOrderTrack, realtime.TrackRequest{OrderID: r.orderID, ClientID: benchClient}); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	env, err := await(conn, realtime.StatusEventName(r.orderID), 3*time.Second)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	var st realtime.StatusUpdate
	_ = json.Unmarshal(env.Data, &st)
	return Result{Status: statusPass, Latency: time.Since(start), Note: "status=" + st.Status}
}

// wsLocationLoad streams location reports from every bench driver for the configured duration.
func wsLocationLoad(ctx context.Context, r *Runner) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: statusSkip, Note: "jwt secret not configured"}
	}
	var sent, errs atomic.Int64
	end := time.Now().Add(r.cfg.Duration)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		id := driverID(i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := r.dial(ctx, id, types.RoleDriver)
			if err != nil {
				errs.Add(1)
				return
			}
			defer conn.Close()
			// drain fan-out so the server never sees this client as slow
			go func() {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}()
			lat := 5.30 + float64(i)*0.001
			for time.Now().Before(end) {
				lat += 0.00001
				if err := send(conn, realtime.EventDriverLocation, realtime.LocationReport{DriverID: id, Lat: lat, Lon: -4.0}); err != nil {
					errs.Add(1)
					return
				}
				sent.Add(1)
				time.Sleep(50 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	if sent.Load() == 0 {
		return Result{Status: statusFail, Note: "no reports sent"}
	}
	rps := float64(sent.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("reports/s=%.1f errors=%d", rps, errs.Load())}
}

func createLoad(ctx context.Context, r *Runner) Result {
	tok, err := r.token(benchClient, types.RoleClient)
	if err != nil {
		return Result{Status: statusSkip, Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				status, _, _, err := r.do(ctx, http.MethodPost, "/api/orders", tok, orderBody())
				if err != nil || status != http.StatusCreated {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", status)
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
