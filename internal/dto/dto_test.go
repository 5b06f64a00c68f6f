package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-scene/internal/domain"
)

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	// 客户端不得夹带服务端维护的字段
	raw := json.RawMessage(`{"objectId":"o1","patch":{"color":"#fff","_version":99}}`)
	var p ObjectUpdatePayload
	assert.Error(t, DecodeStrict(raw, &p), "未知字段应被拒绝")

	raw = json.RawMessage(`{"objectId":"o1","patch":{"color":"#fff"}}`)
	require.NoError(t, DecodeStrict(raw, &p))
	assert.Equal(t, "o1", p.ObjectID)
	require.NotNil(t, p.Patch.Color)
	assert.Equal(t, "#fff", *p.Patch.Color)
}

func TestMessageEncode(t *testing.T) {
	raw, err := Message{Type: EventObjectCreated, Payload: domain.SceneObject{ID: "o1"}}.Encode()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventObjectCreated, env.Type)
	assert.Contains(t, string(env.Payload), `"o1"`)
}
