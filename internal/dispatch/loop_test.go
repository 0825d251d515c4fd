package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/swarm/internal/protocol"
)

func TestRunLoopSurvivesBadInput(t *testing.T) {
	t.Setenv("SWARM_DB_CONNECT_TIMEOUT_MS", "100")
	d := testDispatcher(t)

	input := strings.Join([]string{
		`{"cmd":"?"}`,
		``,
		`this is not json`,
		`   `,
		`{"cmd":"statsu"}`,
		`{"cmd":"help"}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, d.Run(context.Background(), strings.NewReader(input), &out))

	var envelopes []protocol.Envelope
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env), "each output line is one envelope")
		envelopes = append(envelopes, env)
	}
	require.NoError(t, scanner.Err())

	// Blank lines produce nothing; the four real lines each get a reply.
	require.Len(t, envelopes, 4)
	assert.True(t, envelopes[0].OK)
	assert.False(t, envelopes[1].OK, "unparseable input yields an INVALID envelope")
	assert.Equal(t, protocol.CodeInvalid, envelopes[1].Err.Code)
	assert.False(t, envelopes[2].OK)
	assert.True(t, envelopes[3].OK)
}

func TestRunLoopEmptyInput(t *testing.T) {
	t.Setenv("SWARM_DB_CONNECT_TIMEOUT_MS", "100")
	d := testDispatcher(t)

	var out bytes.Buffer
	require.NoError(t, d.Run(context.Background(), strings.NewReader(""), &out))

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env),
		"an empty stream still gets one envelope")
	assert.False(t, env.OK)
	assert.Equal(t, protocol.CodeInvalid, env.Err.Code)
	assert.Equal(t, "provide one JSON command per line", env.Fix)
}

func TestRunLoopBlankLinesOnly(t *testing.T) {
	t.Setenv("SWARM_DB_CONNECT_TIMEOUT_MS", "100")
	d := testDispatcher(t)

	var out bytes.Buffer
	require.NoError(t, d.Run(context.Background(), strings.NewReader("\n  \n\n"), &out))

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env))
	assert.False(t, env.OK)
	assert.Equal(t, protocol.CodeInvalid, env.Err.Code)
}
