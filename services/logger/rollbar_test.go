package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/user"
)

func TestRollbarLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST", TestMode: true})

	usr := user.User{ID: "u1", Name: "Admin", Email: "admin@example.com"}
	logger.Error("wizard submission failed", errors.New("store unavailable"), usr)
	logger.Info("wizard submitted", map[string]interface{}{"id": "doc-1"})

	out := buf.String()
	assert.Contains(t, out, "[ERROR] wizard submission failed")
	assert.Contains(t, out, "store unavailable")
	assert.Contains(t, out, "actor: u1 <admin@example.com>")
	assert.Contains(t, out, "[INFO] wizard submitted")
	assert.Contains(t, out, "map[id:doc-1]")
}

func TestRollbarLogger_Prepare(t *testing.T) {
	logger := RollbarLogger{}
	err := errors.New("boom")
	args := logger.prepare("msg", []interface{}{err, user.User{ID: "u1"}, user.User{ID: "u2"}})
	assert.Equal(t, []interface{}{"msg", err}, args)
}
