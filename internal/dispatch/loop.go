package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/protocol"
	"github.com/steveyegge/swarm/internal/store"
)

// maxLineBytes bounds one stdin request line.
const maxLineBytes = 4 * 1024 * 1024

// Run is the protocol loop: one request line in, one envelope line out.
// Blank lines are skipped, unparseable lines produce INVALID envelopes, and
// no input ever terminates the loop early. Every request is audited. A
// stream with no requests at all is answered with one INVALID envelope
// rather than silent success.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	handled := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer; the request must outlive this
		// iteration for auditing.
		request := make([]byte, len(line))
		copy(request, line)

		start := time.Now()
		env := d.Dispatch(ctx, request)
		d.audit(ctx, request, env, time.Since(start))
		handled++

		if err := writeEnvelope(w, env); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if handled == 0 {
		env := protocol.Error(nil, protocol.CodeInvalid, "no requests received").
			WithFix("provide one JSON command per line")
		return writeEnvelope(w, env)
	}
	return nil
}

// writeEnvelope emits the envelope as a single write so concurrent writers
// cannot interleave partial lines.
func writeEnvelope(w io.Writer, env *protocol.Envelope) error {
	out, err := env.Encode()
	if err != nil {
		out = []byte(fmt.Sprintf(
			`{"ok":false,"t":%d,"ms":0,"err":{"code":"INTERNAL","msg":"response not serializable"},"fix":"Report this"}`,
			protocol.NowMS()))
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// audit best-effort records the request in command_audit. Audit loss never
// affects the reply.
func (d *Dispatcher) audit(ctx context.Context, line []byte, env *protocol.Envelope, elapsed time.Duration) {
	db := d.auditDB(ctx)
	if db == nil {
		return
	}
	cmd := "<unparseable>"
	if req, err := protocol.ParseRequest(line); err == nil {
		cmd = req.Cmd
	}
	var errCode *string
	if env.Err != nil {
		errCode = &env.Err.Code
	}
	_ = db.AppendAudit(ctx, cmd, protocol.MaskSensitive(line), env.OK, elapsed.Milliseconds(), errCode)
}

// auditDB resolves the audit connection once per process. A pinned
// Dispatcher.DB always wins.
func (d *Dispatcher) auditDB(ctx context.Context) *store.DB {
	if d.DB != nil {
		return d.DB
	}
	d.auditOnce.Do(func() {
		db, _, _ := store.OpenCandidates(ctx,
			config.DatabaseURLCandidates(d.Root),
			config.ConnectTimeoutMS(nil),
			config.MaskDatabaseURL)
		d.auditConn = db
	})
	return d.auditConn
}
