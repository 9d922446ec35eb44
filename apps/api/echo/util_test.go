package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/enrol/apps/api/echo"
	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/otp"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/services/email"
	"github.com/trezcool/enrol/storage/database/dummy"
	"github.com/trezcool/enrol/storage/files"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}

	admin   = user.User{ID: "admin-1", Name: "Admin", Email: "admin@example.com", SchoolID: "school-1", Roles: []string{user.RoleAdmin}}
	teacher = user.User{ID: "teacher-1", Name: "Teacher", Email: "teacher@example.com", SchoolID: "school-1", Roles: []string{user.RoleTeacher}}
	parent  = user.User{ID: "parent-1", Name: "Parent", Email: "parent@example.com", SchoolID: "school-1", Roles: []string{user.RoleParent}}
)

type testEnv struct {
	app      Server
	conf     *core.Config
	store    submission.StoreReader
	uploader *files.MemoryUploader
	codes    *otp.MemoryStore
	mail     *emailsvc.ConsoleServiceMock
}

func testConfig() *core.Config {
	return &core.Config{
		TestMode:  true,
		AppName:   "Enrol",
		SecretKey: "test-secret",
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
	}
}

func setup(t *testing.T, stores ...submission.StoreReader) testEnv {
	t.Helper()
	var store submission.StoreReader
	if len(stores) > 0 {
		store = stores[0]
	} else {
		db, err := dummydb.Open()
		require.NoError(t, err)
		store = dummydb.NewDocumentStore(db)
	}

	conf := testConfig()
	mailSvc := emailsvc.NewConsoleServiceMock(conf.AppName)
	codes := otp.NewMemoryStore()
	otpSvc, err := otp.NewService(codes, mailSvc, core.OTPConfig{Length: 6, TTL: time.Minute})
	require.NoError(t, err)
	uploader := files.NewMemoryUploader()

	translator := core.NewTranslator()
	app := NewServer(&Options{
		Conf:           conf,
		DisableReqLogs: true,
		Validate:       core.NewValidate(translator),
		Translator:     translator,
		Store:          store,
		Uploader:       uploader,
		Codes:          otpSvc,
	})
	return testEnv{app: app, conf: conf, store: store, uploader: uploader, codes: codes, mail: mailSvc}
}

// do serves a JSON request and decodes the response body into out, when given.
func (env testEnv) do(t *testing.T, method, path, token string, body interface{}, out ...interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		data = marshallObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	env.app.ServeHTTP(rec, req)
	if len(out) > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out[0]), rec.Body.String())
	}
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type sessionResp struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Steps []struct {
		ID     string   `json:"id"`
		Fields []string `json:"fields"`
	} `json:"steps"`
	State struct {
		Step      int                    `json:"step"`
		Record    map[string]interface{} `json:"record"`
		Errors    map[string]string      `json:"errors"`
		Submitted bool                   `json:"submitted"`
		CreatedID string                 `json:"created_id"`
		Notice    string                 `json:"notice"`
	} `json:"state"`
	Moved *bool  `json:"moved"`
	Token string `json:"token"`
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, env testEnv, usr user.User) string {
	auth := NewAuth(env.conf)
	token, err := auth.GenerateToken(auth.GetUserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// failingStore refuses to create documents.
type failingStore struct {
	submission.StoreReader
}

var errStoreDown = errors.New("database is unavailable")

func (failingStore) Create(context.Context, string, submission.Payload) (submission.Document, error) {
	return submission.Document{}, errStoreDown
}
