// Package httpapi exposes the upload pipeline over HTTP.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"3send.xyz/send/envelope"
	"3send.xyz/send/fault"
	"3send.xyz/send/ingest"
	"3send.xyz/send/payment"
)

// Handler serves the upload API.
type Handler struct {
	Ingest *ingest.Orchestrator
	Logger *slog.Logger

	// MaxUploadBytes caps the request body; zero means no cap.
	MaxUploadBytes int64
}

// NewMux returns the route table for the upload daemon.
func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/uploads", h.handleUpload)
	mux.HandleFunc("GET /healthz", handleHealthz)
	return mux
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// uploadFields collects the non-file multipart parts. The file part must come
// last so every field is known before the stream starts.
type uploadFields struct {
	recipient    string
	initiator    string
	message      string
	signature    []byte
	paymentRef   string
	chainID      uint64
	tierID       string
	declaredSize int64
	metadata     *envelope.Envelope
	filename     string
	contentType  string
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	mediaType := r.Header.Get("Content-Type")
	boundary, err := multipartBoundary(mediaType)
	if err != nil {
		h.writeError(w, fault.New(fault.KindMalformed, "content-type", err.Error()))
		return
	}
	mr := multipart.NewReader(body, boundary)

	fields := uploadFields{declaredSize: -1}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			h.writeError(w, fault.New(fault.KindMalformed, "file", "multipart body has no file part"))
			return
		}
		if err != nil {
			h.writeError(w, fault.Wrap(fault.KindMalformed, "", "reading multipart body", err))
			return
		}
		if part.FormName() == "file" {
			// Everything before the file part is settled; hand the stream to
			// the pipeline.
			fields.filename = part.FileName()
			fields.contentType = part.Header.Get("Content-Type")
			h.runIngest(w, r, fields, part)
			_ = part.Close()
			return
		}
		if err := fields.set(part); err != nil {
			_ = part.Close()
			h.writeError(w, err)
			return
		}
		_ = part.Close()
	}
}

// set parses one non-file part into the field struct.
func (f *uploadFields) set(part *multipart.Part) error {
	// Field values are small; the file is the only streamed part.
	raw, err := io.ReadAll(io.LimitReader(part, 1<<20))
	if err != nil {
		return fault.Wrap(fault.KindMalformed, part.FormName(), "reading field", err)
	}
	value := string(raw)
	switch part.FormName() {
	case "recipient":
		f.recipient = strings.TrimSpace(value)
	case "initiator":
		f.initiator = strings.TrimSpace(value)
	case "message":
		f.message = value
	case "signature":
		sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
		if err != nil {
			return fault.Wrap(fault.KindMalformed, "signature", "signature is not hex", err)
		}
		f.signature = sig
	case "payment-ref":
		f.paymentRef = strings.TrimSpace(value)
	case "chain-id":
		id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fault.Wrap(fault.KindMalformed, "chain-id", "chain id is not a non-negative integer", err)
		}
		f.chainID = id
	case "tier-id":
		f.tierID = strings.TrimSpace(value)
	case "original-size":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return fault.New(fault.KindMalformed, "original-size", "original size is not a non-negative integer")
		}
		f.declaredSize = n
	case "metadata":
		var env envelope.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fault.Wrap(fault.KindMalformed, "metadata", "metadata is not valid envelope JSON", err)
		}
		f.metadata = &env
	default:
		return fault.New(fault.KindMalformed, part.FormName(), "unknown field")
	}
	return nil
}

func (h *Handler) runIngest(w http.ResponseWriter, r *http.Request, fields uploadFields, file io.Reader) {
	req := ingest.Request{
		Input: payment.Input{
			Initiator:    fields.initiator,
			Recipient:    fields.recipient,
			ChainID:      fields.chainID,
			TierID:       fields.tierID,
			PaymentRef:   fields.paymentRef,
			Message:      fields.message,
			Signature:    fields.signature,
			DeclaredSize: fields.declaredSize,
			Envelope:     fields.metadata,
		},
		Filename:    fields.filename,
		ContentType: fields.contentType,
	}
	record, timings, err := h.Ingest.Ingest(r.Context(), req, file)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":  record,
		"timings": timings,
	})
}

// errorBody is the error response shape. Infrastructure details never leak;
// clients get the kind and a generic message.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Field   string `json:"field,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	var body errorBody
	var fe *fault.Error
	if errors.As(err, &fe) && status < http.StatusInternalServerError {
		body.Error.Kind = string(fe.Kind)
		body.Error.Field = fe.Field
		body.Error.Message = fe.Message
	} else {
		body.Error.Kind = string(fault.KindInfrastructure)
		body.Error.Message = "internal error"
		h.logger().Error("upload failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func multipartBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", errors.New("missing content type")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	if mediaType != "multipart/form-data" {
		return "", fmt.Errorf("expected multipart/form-data, got %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", errors.New("missing multipart boundary")
	}
	return boundary, nil
}
