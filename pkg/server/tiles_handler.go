package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/relves/vulnlog/pkg/eventlog"
)

// TilesHandler serves the event log through the tlog-tiles API as specified
// in https://github.com/C2SP/C2SP/blob/main/tlog-tiles.md
type TilesHandler struct {
	events *eventlog.Log
	logger *slog.Logger
}

// NewTilesHandler creates a new handler for tlog-tiles API endpoints
func NewTilesHandler(events *eventlog.Log, logger *slog.Logger) *TilesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TilesHandler{events: events, logger: logger}
}

// Register adds the tile routes to mux. The checkpoint itself is served by
// HTTPHandler at /log/checkpoint.
func (h *TilesHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /log/tile/{level}/{tilePath...}", h.HandleTile)
	mux.HandleFunc("GET /log/tile/entries/{entryPath...}", h.HandleEntries)
}

// HandleTile serves GET /log/tile/<L>/<N>[.p/<W>]
func (h *TilesHandler) HandleTile(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.ParseUint(r.PathValue("level"), 10, 64)
	if err != nil || level > 63 {
		http.Error(w, "invalid level (must be 0-63)", http.StatusBadRequest)
		return
	}

	index, partialWidth, err := parseTilePath(r.PathValue("tilePath"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tile path: %v", err), http.StatusBadRequest)
		return
	}

	tile, err := h.events.Tile(r.Context(), level, index, partialWidth)
	if err != nil {
		h.writeTileError(w, "failed to read tile", err)
		return
	}

	// Full and partial tiles never change once served
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(tile)
}

// HandleEntries serves GET /log/tile/entries/<N>[.p/<W>]
func (h *TilesHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	index, partialWidth, err := parseTilePath(r.PathValue("entryPath"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entry path: %v", err), http.StatusBadRequest)
		return
	}

	bundle, err := h.events.EntryBundle(r.Context(), index, partialWidth)
	if err != nil {
		h.writeTileError(w, "failed to read entry bundle", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(bundle)
}

func (h *TilesHandler) writeTileError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, eventlog.ErrTileNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

// parseTilePath parses a tile path in the format: x000/x001/234 or x000/x001/234.p/128
// Returns the tile index and partial width (0 for full tiles)
func parseTilePath(path string) (index uint64, partialWidth uint8, err error) {
	parts := strings.Split(path, ".p/")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("malformed partial suffix")
	}
	basePath := parts[0]

	if len(parts) == 2 {
		w, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil || w == 0 || w > 255 {
			return 0, 0, fmt.Errorf("invalid partial width (must be 1-255)")
		}
		partialWidth = uint8(w)
	}

	// Every segment is three digits; all but the last carry an 'x' prefix.
	// x001/234 -> index 1234
	segments := strings.Split(basePath, "/")
	var digits strings.Builder
	for i, seg := range segments {
		if i < len(segments)-1 {
			if !strings.HasPrefix(seg, "x") {
				return 0, 0, fmt.Errorf("invalid path segment (missing x prefix): %s", seg)
			}
			seg = seg[1:]
		}
		if len(seg) != 3 {
			return 0, 0, fmt.Errorf("invalid path segment (must be 3 digits): %s", seg)
		}
		digits.WriteString(seg)
	}

	index, err = strconv.ParseUint(digits.String(), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid index: %w", err)
	}
	return index, partialWidth, nil
}
