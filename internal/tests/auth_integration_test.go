package tests

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/chat"
	"github.com/afyalink/server/internal/config"
	"github.com/afyalink/server/internal/db"
	httphandler "github.com/afyalink/server/internal/http"
	"github.com/afyalink/server/internal/http/handlers"
	"github.com/afyalink/server/internal/notify"
	"github.com/afyalink/server/internal/repo"
	_ "github.com/lib/pq"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}

	code := m.Run()
	os.Exit(code)
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	JWT    *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	err = RunMigrations(database)
	require.NoError(t, err, "migrations must run successfully")

	userRepo := repo.NewUserRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	accessRepo := repo.NewAccessCodeRepo(database)
	passkeyRepo := repo.NewPasskeyRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	requestRepo := repo.NewRequestRepo(database)
	convRepo := repo.NewConversationRepo(database)

	otpService := auth.NewOTPService(otpRepo, cfg.OTPTTL)
	accessCodeService := auth.NewAccessCodeService(accessRepo, userRepo, otpService)
	sessionService := auth.NewSessionService(sessionRepo, cfg.SessionTTL)
	passkeyService := auth.NewPasskeyService(passkeyRepo, accessRepo, userRepo, sessionService, "afyalink.test", "AfyaLink")
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	notifier := notify.New(database, cfg.WhatsAppLinkBase)
	bridge := chat.NewBridge(requestRepo, convRepo)
	relay := chat.NewRelay(requestRepo, convRepo, bridge, notifier)

	authHandler := handlers.NewAuthHandler(otpService, accessCodeService, passkeyService, cfg.CountryCode, cfg.DevMode)
	requestHandler := handlers.NewRequestHandler(requestRepo, userRepo, jwtService, sessionService, accessCodeService, cfg.CountryCode)
	chatHandler := handlers.NewChatHandler(relay, jwtService, sessionService, accessCodeService, cfg.CountryCode)

	router := httphandler.NewRouter(authHandler, requestHandler, chatHandler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, JWT: jwtService}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) Truncate(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAll(context.Background(), s.DB), "truncate tables")
}

// SeedUser inserts a user row directly and returns its id.
func (s *testServer) SeedUser(t *testing.T, phone string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.DB.QueryRowContext(context.Background(),
		"INSERT INTO users (phone_number) VALUES ($1) RETURNING id", phone).Scan(&id)
	require.NoError(t, err, "seed user")
	return id
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}) *http.Response {
	t.Helper()
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(bodyBytes))
	require.NoError(t, err)
	return resp
}

// startOTPResponse matches POST /auth/start_otp response
type startOTPResponse struct {
	OK      bool   `json:"ok"`
	DevCode string `json:"dev_code"`
}

// sessionTokenResponse matches register_verify / login_verify responses
type sessionTokenResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"session_token"`
}

// requestEnvelope matches the create_with_pin / create_with_session response
type requestEnvelope struct {
	Request struct {
		ID             string  `json:"id"`
		SwahibaID      string  `json:"swahiba_id"`
		ConversationID *string `json:"conversation_id"`
		Status         string  `json:"status"`
		Phone          string  `json:"phone"`
		Need           string  `json:"need"`
	} `json:"request"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Error string `json:"error"`
}

// startAndVerify runs the start_otp + verify_otp round trip for phone.
func startAndVerify(t *testing.T, client *http.Client, baseURL, phone string) {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/auth/start_otp", map[string]string{"phone": phone})
	body := readBody(resp)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "start_otp must return 200; body: %s", body)
	var res startOTPResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	require.NotEmpty(t, res.DevCode, "dev_code must be present when DEV_MODE=true")

	respVerify := postJSON(t, client, baseURL+"/auth/verify_otp", map[string]string{"phone": phone, "otp": res.DevCode})
	verifyBody := readBody(respVerify)
	respVerify.Body.Close()
	require.Equal(t, http.StatusOK, respVerify.StatusCode, "verify_otp must return 200; body: %s", verifyBody)
}

func TestAuthIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"], "response must contain {\"ok\":true}")
	})

	t.Run("B_StartOTP_NormalizesPhone", func(t *testing.T) {
		ts.Truncate(t)
		// Local format in, canonical form stored.
		resp := postJSON(t, client, baseURL+"/auth/start_otp", map[string]string{"phone": "0712 345 678"})
		body := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "start_otp must return 200; body: %s", body)
		var res startOTPResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		require.NotEmpty(t, res.DevCode)

		var stored string
		err := ts.DB.QueryRow("SELECT phone_number FROM otp_challenges ORDER BY created_at DESC LIMIT 1").Scan(&stored)
		require.NoError(t, err)
		assert.Equal(t, "+255712345678", stored, "challenge must be stored under the canonical phone")

		// Verify using the international spelling of the same number.
		respVerify := postJSON(t, client, baseURL+"/auth/verify_otp", map[string]string{"phone": "+255712345678", "otp": res.DevCode})
		defer respVerify.Body.Close()
		assert.Equal(t, http.StatusOK, respVerify.StatusCode, "verify with equivalent spelling must succeed; body: %s", readBody(respVerify))
	})

	t.Run("C_VerifyOTP_Idempotent", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000001"
		resp := postJSON(t, client, baseURL+"/auth/start_otp", map[string]string{"phone": phone})
		var res startOTPResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		resp.Body.Close()
		require.NotEmpty(t, res.DevCode)

		for i := 0; i < 2; i++ {
			respVerify := postJSON(t, client, baseURL+"/auth/verify_otp", map[string]string{"phone": phone, "otp": res.DevCode})
			body := readBody(respVerify)
			respVerify.Body.Close()
			assert.Equal(t, http.StatusOK, respVerify.StatusCode, "verify attempt %d must return 200; body: %s", i+1, body)
		}

		var count int
		require.NoError(t, ts.DB.QueryRow("SELECT count(*) FROM otp_challenges WHERE phone_number = $1 AND verified_at IS NOT NULL", phone).Scan(&count))
		assert.Equal(t, 1, count, "re-verify must not create a second verified challenge")
	})

	t.Run("C2_VerifyOTP_WrongCode", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000002"
		resp := postJSON(t, client, baseURL+"/auth/start_otp", map[string]string{"phone": phone})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		respVerify := postJSON(t, client, baseURL+"/auth/verify_otp", map[string]string{"phone": phone, "otp": "000000"})
		body := readBody(respVerify)
		respVerify.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respVerify.StatusCode, "wrong OTP must return 401; body: %s", body)
	})

	t.Run("C3_VerifyOTP_Expired", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000003"
		resp := postJSON(t, client, baseURL+"/auth/start_otp", map[string]string{"phone": phone})
		var res startOTPResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		resp.Body.Close()

		_, err := ts.DB.Exec("UPDATE otp_challenges SET expires_at = now() - interval '1 minute' WHERE phone_number = $1", phone)
		require.NoError(t, err)

		respVerify := postJSON(t, client, baseURL+"/auth/verify_otp", map[string]string{"phone": phone, "otp": res.DevCode})
		body := readBody(respVerify)
		respVerify.Body.Close()
		assert.Equal(t, http.StatusGone, respVerify.StatusCode, "expired OTP must return 410; body: %s", body)
	})

	t.Run("D_SetAccessCode", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000004"
		startAndVerify(t, client, baseURL, phone)

		resp := postJSON(t, client, baseURL+"/auth/set_access_code", map[string]string{"phone": phone, "access_code": "AB12"})
		body := readBody(resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "set_access_code after OTP must return 200; body: %s", body)

		var hash sql.NullString
		require.NoError(t, ts.DB.QueryRow("SELECT code_hash FROM access_credentials WHERE phone_number = $1", phone).Scan(&hash))
		require.True(t, hash.Valid)
		sum := sha256.Sum256([]byte(phone + ":" + "ab12"))
		assert.Equal(t, hex.EncodeToString(sum[:]), hash.String, "stored hash must use the phone-salted scheme")
	})

	t.Run("D2_SetAccessCode_WithoutOTP", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000005"
		resp := postJSON(t, client, baseURL+"/auth/set_access_code", map[string]string{"phone": phone, "access_code": "AB12"})
		body := readBody(resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "set_access_code without recent OTP must return 401; body: %s", body)

		// The assisted-onboarding bypass skips the OTP gate.
		respNoOTP := postJSON(t, client, baseURL+"/auth/set_access_code_no_otp", map[string]string{"phone": phone, "access_code": "AB12"})
		noOTPBody := readBody(respNoOTP)
		respNoOTP.Body.Close()
		assert.Equal(t, http.StatusOK, respNoOTP.StatusCode, "set_access_code_no_otp must return 200; body: %s", noOTPBody)
	})

	t.Run("D3_SetAccessCode_BadFormat", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000006"
		for _, code := range []string{"AB1", "AB123", "AB!2", ""} {
			resp := postJSON(t, client, baseURL+"/auth/set_access_code_no_otp", map[string]string{"phone": phone, "access_code": code})
			body := readBody(resp)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "code %q must return 400; body: %s", code, body)
		}
	})

	t.Run("E_LegacyHashFallback", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000007"
		swahibaID := ts.SeedUser(t, "+255790000001")
		guestID := ts.SeedUser(t, phone)

		// Pre-salting rows hashed the lowercase code alone.
		sum := sha256.Sum256([]byte(strings.ToLower("AB12")))
		_, err := ts.DB.Exec(
			"INSERT INTO access_credentials (phone_number, code_hash, user_id) VALUES ($1, $2, $3)",
			phone, hex.EncodeToString(sum[:]), guestID)
		require.NoError(t, err)

		resp := postJSON(t, client, baseURL+"/requests/create_with_pin", map[string]string{
			"phone": phone, "access_code": "AB12", "swahiba_id": swahibaID.String(), "need": "referral",
		})
		body := readBody(resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "legacy-hash credential must still authenticate; body: %s", body)
	})

	t.Run("F_Passkey_RegisterAndLogin", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000008"

		respOpts := postJSON(t, client, baseURL+"/auth/register_options", map[string]string{"phone": phone})
		optsBody := readBody(respOpts)
		respOpts.Body.Close()
		require.Equal(t, http.StatusOK, respOpts.StatusCode, "register_options must return 200; body: %s", optsBody)
		var opts struct {
			Challenge string `json:"challenge"`
		}
		require.NoError(t, json.Unmarshal([]byte(optsBody), &opts))
		assert.NotEmpty(t, opts.Challenge)

		credential := map[string]string{"id": "test-credential-1", "public_key": "dGVzdC1wdWJsaWMta2V5"}
		respReg := postJSON(t, client, baseURL+"/auth/register_verify", map[string]interface{}{
			"phone": phone, "credential": credential,
		})
		regBody := readBody(respReg)
		respReg.Body.Close()
		require.Equal(t, http.StatusOK, respReg.StatusCode, "register_verify must return 200; body: %s", regBody)
		var regRes sessionTokenResponse
		require.NoError(t, json.Unmarshal([]byte(regBody), &regRes))
		assert.NotEmpty(t, regRes.SessionToken, "register_verify must issue a session token")

		// Registration consumes the challenge; a replay must fail.
		respReplay := postJSON(t, client, baseURL+"/auth/register_verify", map[string]interface{}{
			"phone": phone, "credential": credential,
		})
		replayBody := readBody(respReplay)
		respReplay.Body.Close()
		assert.NotEqual(t, http.StatusOK, respReplay.StatusCode, "replayed register_verify must fail; body: %s", replayBody)

		respLoginOpts := postJSON(t, client, baseURL+"/auth/login_options", map[string]string{})
		loginOptsBody := readBody(respLoginOpts)
		respLoginOpts.Body.Close()
		require.Equal(t, http.StatusOK, respLoginOpts.StatusCode, "login_options must return 200; body: %s", loginOptsBody)

		respLogin := postJSON(t, client, baseURL+"/auth/login_verify", map[string]interface{}{"credential": credential})
		loginBody := readBody(respLogin)
		respLogin.Body.Close()
		require.Equal(t, http.StatusOK, respLogin.StatusCode, "login_verify must return 200; body: %s", loginBody)
		var loginRes sessionTokenResponse
		require.NoError(t, json.Unmarshal([]byte(loginBody), &loginRes))
		assert.NotEmpty(t, loginRes.SessionToken)

		// Unknown credential id must not log in. Each login ceremony consumes
		// its challenge, so mint a fresh one first.
		respOpts2 := postJSON(t, client, baseURL+"/auth/login_options", map[string]string{})
		require.Equal(t, http.StatusOK, respOpts2.StatusCode)
		respOpts2.Body.Close()

		respUnknown := postJSON(t, client, baseURL+"/auth/login_verify", map[string]interface{}{
			"credential": map[string]string{"id": "no-such-credential"},
		})
		unknownBody := readBody(respUnknown)
		respUnknown.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respUnknown.StatusCode, "unknown credential must return 401; body: %s", unknownBody)
	})

	t.Run("G_SessionToken_CreateRequestAndExpiry", func(t *testing.T) {
		ts.Truncate(t)
		phone := "+255713000009"
		swahibaID := ts.SeedUser(t, "+255790000002")

		respOpts := postJSON(t, client, baseURL+"/auth/register_options", map[string]string{"phone": phone})
		require.Equal(t, http.StatusOK, respOpts.StatusCode)
		respOpts.Body.Close()

		respReg := postJSON(t, client, baseURL+"/auth/register_verify", map[string]interface{}{
			"phone":      phone,
			"credential": map[string]string{"id": "test-credential-2", "public_key": "cGs="},
		})
		var regRes sessionTokenResponse
		require.NoError(t, json.NewDecoder(respReg.Body).Decode(&regRes))
		respReg.Body.Close()
		require.NotEmpty(t, regRes.SessionToken)

		resp := postJSON(t, client, baseURL+"/requests/create_with_session", map[string]string{
			"session_token": regRes.SessionToken, "swahiba_id": swahibaID.String(), "need": "referral",
		})
		body := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "create_with_session must return 200; body: %s", body)
		var env requestEnvelope
		require.NoError(t, json.Unmarshal([]byte(body), &env))
		assert.Equal(t, phone, env.Request.Phone)
		assert.Equal(t, "pending", env.Request.Status)
		assert.Nil(t, env.Request.ConversationID, "a fresh request has no conversation yet")

		// Session tokens have a fixed lifetime and are never renewed.
		_, err := ts.DB.Exec("UPDATE sessions SET expires_at = now() - interval '1 hour'")
		require.NoError(t, err)

		respExpired := postJSON(t, client, baseURL+"/requests/create_with_session", map[string]string{
			"session_token": regRes.SessionToken, "swahiba_id": swahibaID.String(), "need": "referral",
		})
		expiredBody := readBody(respExpired)
		respExpired.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respExpired.StatusCode, "expired session must return 401; body: %s", expiredBody)
	})
}

func TestStartOTPRateLimit(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	ts.Truncate(t)
	client := ts.Server.Client()

	body := map[string]string{"phone": "+255713000010"}
	var lastResp *http.Response
	for i := 0; i < 4; i++ {
		resp := postJSON(t, client, ts.BaseURL()+"/auth/start_otp", body)
		lastResp = resp
		if resp.StatusCode == http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()
	}
	require.NotNil(t, lastResp)
	defer lastResp.Body.Close()
	rateLimitBody := readBody(lastResp)
	assert.Equal(t, http.StatusTooManyRequests, lastResp.StatusCode, "4th start_otp for the same phone must return 429; body: %s", rateLimitBody)
}

// readBody reads and returns the response body (consumes it). Use for error messages only.
func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
