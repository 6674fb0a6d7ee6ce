package apirouter

import (
	"context"
	"fmt"
	"os"

	"github.com/uicp/coreadapter/netguard"
)

// dispatchTauri handles the tauri:// scheme: fs/writeTextFile. The path is
// resolved against the base directory registered under call.DirectoryToken;
// any attempt to escape that base yields a handled failure, never a write.
func (r *Router) dispatchTauri(ctx context.Context, call *Call) (*Result, error) {
	r.mu.RLock()
	base, ok := r.sandbox[call.DirectoryToken]
	r.mu.RUnlock()
	if !ok {
		return &Result{OK: false, ErrorCode: "Adapter.ValidationFailed"}, nil
	}

	target, err := netguard.SafePath(base, call.Path)
	if err != nil {
		r.logger.WarnContext(ctx, "tauri fs write sandbox violation",
			"directory_token", call.DirectoryToken, "path", call.Path)
		r.emit(ctx, "api_call", map[string]any{"scheme": "tauri", "path": "fs/writeTextFile", "ok": false})
		return &Result{OK: false, ErrorCode: "Permission.Denied"}, nil
	}

	if err := os.WriteFile(target, []byte(call.Contents), 0o644); err != nil {
		return nil, fmt.Errorf("apirouter: write %s: %w", target, err)
	}
	r.emit(ctx, "api_call", map[string]any{"scheme": "tauri", "path": "fs/writeTextFile", "ok": true})
	return &Result{OK: true}, nil
}
