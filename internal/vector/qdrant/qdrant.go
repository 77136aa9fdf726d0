// Package qdrant implements vector.Repository against a Qdrant instance over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/efebarandurmaz/loom/internal/vector"
)

const scrollPageSize = 256

// Repository implements vector.Repository using Qdrant.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Qdrant-backed repository. A non-empty apiKey is attached to
// every RPC as the api-key metadata Qdrant's authenticated deployments expect.
func New(ctx context.Context, host string, port int, collection, apiKey string) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if apiKey != "" {
		opts = append(opts,
			grpc.WithUnaryInterceptor(apiKeyUnaryInterceptor(apiKey)),
			grpc.WithStreamInterceptor(apiKeyStreamInterceptor(apiKey)),
		)
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Repository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the backing collection with cosine distance and the
// given vector dimension if it does not already exist.
func (r *Repository) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: r.collection,
	})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func (r *Repository) Upsert(ctx context.Context, docs []vector.Document) error {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: map[string]*pb.Value{
				"content":      {Kind: &pb.Value_StringValue{StringValue: d.Content}},
				"source":       {Kind: &pb.Value_StringValue{StringValue: d.Metadata.Source}},
				"chunk_index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.Metadata.ChunkIndex)}},
				"total_chunks": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(d.Metadata.TotalChunks)}},
				"created_at":   {Kind: &pb.Value_StringValue{StringValue: d.CreatedAt.UTC().Format(time.RFC3339Nano)}},
			},
		}
	}

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (r *Repository) Search(ctx context.Context, vec []float32, threshold float32, topK int) ([]vector.Match, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	matches := make([]vector.Match, 0, len(resp.Result))
	for _, pt := range resp.Result {
		// Qdrant's threshold is inclusive; relevance requires strictly above.
		if pt.Score <= threshold {
			continue
		}
		matches = append(matches, vector.Match{
			Content:    pt.Payload["content"].GetStringValue(),
			Metadata:   payloadMetadata(pt.Payload),
			Similarity: clampScore(pt.Score),
		})
	}
	return matches, nil
}

func (r *Repository) ListSources(ctx context.Context) ([]vector.SourceSummary, error) {
	groups := make(map[string]*vector.SourceSummary)

	limit := uint32(scrollPageSize)
	var offset *pb.PointId
	for {
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll: %w", err)
		}

		for _, pt := range resp.Result {
			source := pt.Payload["source"].GetStringValue()
			createdAt, _ := time.Parse(time.RFC3339Nano, pt.Payload["created_at"].GetStringValue())

			g, ok := groups[source]
			if !ok {
				groups[source] = &vector.SourceSummary{Source: source, ChunkCount: 1, CreatedAt: createdAt}
				continue
			}
			g.ChunkCount++
			if createdAt.Before(g.CreatedAt) {
				g.CreatedAt = createdAt
			}
		}

		offset = resp.NextPageOffset
		if offset == nil {
			break
		}
	}

	summaries := make([]vector.SourceSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, *g)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Source < summaries[j].Source })
	return summaries, nil
}

func (r *Repository) DeleteBySource(ctx context.Context, source string) error {
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: sourceFilter(source),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

func sourceFilter(source string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "source",
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: source}},
				},
			},
		}},
	}
}

func payloadMetadata(payload map[string]*pb.Value) vector.Metadata {
	return vector.Metadata{
		Source:      payload["source"].GetStringValue(),
		ChunkIndex:  int(payload["chunk_index"].GetIntegerValue()),
		TotalChunks: int(payload["total_chunks"].GetIntegerValue()),
	}
}

// clampScore maps a cosine score into [0, 1]. Qdrant already reports cosine
// similarity, but antiparallel vectors score below zero.
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func apiKeyUnaryInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

func apiKeyStreamInterceptor(key string) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(metadata.AppendToOutgoingContext(ctx, "api-key", key), desc, cc, method, opts...)
	}
}

var _ vector.Repository = (*Repository)(nil)
