package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/ocr"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

// Processor runs one document. *pipeline.Runner satisfies it.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Document, error)
}

// DocumentStore reads back persisted runs. *store.Store satisfies it.
type DocumentStore interface {
	GetDocument(ctx context.Context, docID string) (*pipeline.Document, error)
	ListEvents(ctx context.Context, docID string) ([]errsys.Event, error)
}

type ExtractionService struct {
	proc   Processor
	store  DocumentStore
	logger *slog.Logger
}

// NewExtractionService wires the service. store may be nil, in which case
// the read methods answer Unavailable.
func NewExtractionService(proc Processor, store DocumentStore, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{proc: proc, store: store, logger: logger}
}

// ExtractDocument runs already-transcribed pages through the pipeline:
// {"file": "...", "doc_id": "<uuid>", "pages": [{"page": 1, "text": "..."}]}.
func (s *ExtractionService) ExtractDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	v := common.NewValidator().
		Field("file", m["file"], common.Required).
		Field("doc_id", stringOr(m["doc_id"]), common.OptionalUUID).
		Field("pages", m["pages"], common.Required)
	if err := common.ValidateAndReturnError(v); err != nil {
		s.logger.Warn("server.extract.invalid", "request_id", common.RequestIDFromContext(ctx), "error", err)
		return nil, err
	}
	file, ok := m["file"].(string)
	if !ok {
		return nil, common.InvalidArgumentError("file must be a string")
	}
	pages, err := parsePages(m["pages"])
	if err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}

	in := pipeline.Input{
		DocID:  stringOr(m["doc_id"]),
		Name:   strings.TrimSpace(file),
		Key:    strings.TrimSpace(file),
		Source: pages,
	}
	start := time.Now()
	s.logger.Info("server.extract.start", "request_id", common.RequestIDFromContext(ctx), "file", in.Name, "pages", len(pages))
	doc, err := s.proc.Process(ctx, in)
	if err != nil {
		s.logger.Error("server.extract.failed", "file", in.Name, "error", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Info("server.extract.ok", "doc_id", doc.ID, "records", len(doc.Results), "failed", doc.Failed,
		"ms", time.Since(start).Milliseconds())
	return toStruct(doc)
}

func (s *ExtractionService) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.docID(req)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		s.logger.Warn("server.get_document.failed", "doc_id", id, "error", err)
		return nil, common.ToStatus(err)
	}
	return toStruct(doc)
}

func (s *ExtractionService) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.docID(req)
	if err != nil {
		return nil, err
	}
	evs, err := s.store.ListEvents(ctx, id)
	if err != nil {
		s.logger.Warn("server.list_events.failed", "doc_id", id, "error", err)
		return nil, common.ToStatus(err)
	}
	if evs == nil {
		evs = []errsys.Event{}
	}
	return toStruct(map[string]any{"doc_id": id, "events": evs})
}

func (s *ExtractionService) docID(req *structpb.Struct) (string, error) {
	if s.store == nil {
		return "", status.Error(codes.Unavailable, "no result store configured")
	}
	id := stringOr(req.AsMap()["doc_id"])
	v := common.NewValidator().Field("doc_id", id, common.Required)
	if err := common.ValidateAndReturnError(v); err != nil {
		return "", err
	}
	return id, nil
}

func parsePages(raw any) (ocr.Pages, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("pages must be a list")
	}
	out := make(ocr.Pages, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pages[%d] must be an object", i)
		}
		v := common.NewValidator().Field(fmt.Sprintf("pages[%d].page", i), obj["page"], common.PositiveInt)
		if v.HasErrors() {
			return nil, errors.New(v.ErrorMessage())
		}
		text, _ := obj["text"].(string)
		out = append(out, ocr.Page{Number: int(obj["page"].(float64)), Text: ocr.Clean(text)})
	}
	return out, nil
}

func stringOr(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// toStruct goes through JSON so struct tags decide the field names.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	return out, nil
}

// RequestIDInterceptor tags each call with a request id, taken from the
// x-request-id header when present.
func RequestIDInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := requestIDFromMetadata(ctx)
		if id == "" {
			id = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, id)
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("server.call.failed", "method", info.FullMethod, "request_id", id, "code", status.Code(err).String())
		} else {
			logger.Debug("server.call.ok", "method", info.FullMethod, "request_id", id)
		}
		return resp, err
	}
}
