package server

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/ocr"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

type echoProcessor struct {
	requestID string
	input     pipeline.Input
}

func (p *echoProcessor) Process(ctx context.Context, in pipeline.Input) (*pipeline.Document, error) {
	p.requestID = common.RequestIDFromContext(ctx)
	p.input = in
	pages, err := ocr.Collect(ctx, in.Source, in.Key)
	if err != nil {
		return nil, err
	}
	doc := &pipeline.Document{ID: "doc-1", Name: in.Name, Pages: len(pages)}
	for _, pg := range pages {
		doc.Results = append(doc.Results, map[string]any{"text": pg.Text, pipeline.MetaKey: map[string]any{"page": pg.Number}})
	}
	doc.Results = append(doc.Results, nil)
	doc.Failed = 1
	return doc, nil
}

type memStore struct {
	docs map[string]*pipeline.Document
}

func (m *memStore) GetDocument(_ context.Context, id string) (*pipeline.Document, error) {
	if d, ok := m.docs[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
}

func (m *memStore) ListEvents(_ context.Context, id string) ([]errsys.Event, error) {
	if _, ok := m.docs[id]; !ok {
		return nil, nil
	}
	return []errsys.Event{{Code: errsys.RecEmpty.ID, DocID: id, Level: errsys.LevelWarn, Message: "empty"}}, nil
}

func dial(t *testing.T, svc ExtractionServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(RequestIDInterceptor(nil)))
	RegisterExtractionServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestExtractDocument(t *testing.T) {
	proc := &echoProcessor{}
	c := dial(t, NewExtractionService(proc, nil, nil))

	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDHeader, "req-42")
	resp, err := c.ExtractDocument(ctx, map[string]any{
		"file": "stmt.pdf",
		"pages": []any{
			map[string]any{"page": 1, "text": "Trade\nBuy 100"},
			map[string]any{"page": 2, "text": "Positions"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-42", proc.requestID)
	assert.Equal(t, "stmt.pdf", proc.input.Name)
	assert.Equal(t, "doc-1", resp["doc_id"])
	assert.Equal(t, "stmt.pdf", resp["source_document"])
	assert.Equal(t, float64(1), resp["failed"])
	results, ok := resp["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Nil(t, results[2])
	first := results[0].(map[string]any)
	assert.Equal(t, "Trade\nBuy 100", first["text"])
}

func TestExtractDocumentRejectsBadInput(t *testing.T) {
	c := dial(t, NewExtractionService(&echoProcessor{}, nil, nil))
	ctx := context.Background()

	tests := []struct {
		name string
		req  map[string]any
	}{
		{"missing file", map[string]any{"pages": []any{map[string]any{"page": 1, "text": "x"}}}},
		{"missing pages", map[string]any{"file": "a.pdf"}},
		{"bad doc id", map[string]any{"file": "a.pdf", "doc_id": "nope", "pages": []any{map[string]any{"page": 1}}}},
		{"zero page", map[string]any{"file": "a.pdf", "pages": []any{map[string]any{"page": 0, "text": "x"}}}},
		{"page not object", map[string]any{"file": "a.pdf", "pages": []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ExtractDocument(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestReadMethods(t *testing.T) {
	st := &memStore{docs: map[string]*pipeline.Document{
		"d1": {ID: "d1", Name: "a.pdf", Pages: 2, Results: []map[string]any{{"x": "y"}}},
	}}
	c := dial(t, NewExtractionService(&echoProcessor{}, st, nil))
	ctx := context.Background()

	doc, err := c.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", doc["source_document"])
	assert.Equal(t, float64(2), doc["pages"])

	_, err = c.GetDocument(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.GetDocument(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	evs, err := c.ListEvents(ctx, "d1")
	require.NoError(t, err)
	list := evs["events"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, errsys.RecEmpty.ID, list[0].(map[string]any)["code"])

	evs, err = c.ListEvents(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, evs["events"])
}

func TestReadMethodsWithoutStore(t *testing.T) {
	c := dial(t, NewExtractionService(&echoProcessor{}, nil, nil))
	_, err := c.GetDocument(context.Background(), "d1")
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
