package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(`{"command":"get_rp","params":{"oxd_id":"abc"}}`)
	require.NoError(t, err)
	assert.Equal(t, CommandGetRp, cmd.Type)

	var params struct {
		OxdID string `json:"oxd_id"`
	}
	require.NoError(t, cmd.DecodeParams(&params))
	assert.Equal(t, "abc", params.OxdID)
}

func TestParseCommand_Malformed(t *testing.T) {
	for _, payload := range []string{"not json", `{"params":{}}`, `[1,2]`} {
		_, err := ParseCommand(payload)
		assert.ErrorIs(t, err, ErrParse, payload)
	}
}

func TestCommand_DecodeParamsBadShape(t *testing.T) {
	cmd := Command{Type: CommandGetRp, Params: []byte(`{"oxd_id":42}`)}

	var params struct {
		OxdID string `json:"oxd_id"`
	}
	err := cmd.DecodeParams(&params)
	require.Error(t, err)
	assert.Equal(t, CodeBadRequest, CodeOf(err))
}

func TestCommand_JSONRoundTrip(t *testing.T) {
	cmd, err := NewCommand(CommandRegisterSite, map[string]any{"op_host": "https://op.example.com"})
	require.NoError(t, err)

	payload, err := cmd.JSON()
	require.NoError(t, err)

	parsed, err := ParseCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, CommandRegisterSite, parsed.Type)
	assert.JSONEq(t, `{"op_host":"https://op.example.com"}`, string(parsed.Params))
}

func TestResponses(t *testing.T) {
	ok, err := OKResponse(map[string]string{"oxd_id": "x"})
	require.NoError(t, err)
	assert.True(t, ok.IsOK())
	assert.Nil(t, ok.Err())

	empty, err := OKResponse(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(empty.Data))

	failed := ErrorResponse(NewError(CodeInvalidScope, ""))
	assert.False(t, failed.IsOK())
	require.NotNil(t, failed.Err())
	assert.Equal(t, CodeInvalidScope, failed.Err().Code)
	assert.Equal(t, CodeInvalidScope.Description(), failed.Err().Description)

	assert.Equal(t, CodeInternalError, InternalErrorResponse.Err().Code)
}

func TestError_Matching(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NewError(CodeProtectionDenied, "inactive"))

	assert.ErrorIs(t, wrapped, NewError(CodeProtectionDenied, ""))
	assert.NotErrorIs(t, wrapped, NewError(CodeInvalidScope, ""))
	assert.Equal(t, CodeProtectionDenied, CodeOf(wrapped))
	assert.Equal(t, CodeInternalError, CodeOf(errors.New("boom")))
}
