package search

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/cluster"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/logger"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/model"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/rpc"
)

const DefaultEndpoint = "/documents_search"

// CoordinatorDirectory locates a live search cluster coordinator.
// It returns cluster.ErrNoCoordinator when none is known.
type CoordinatorDirectory interface {
	RandomAddress(ctx context.Context) (string, error)
}

// Sender starts an RPC to address and returns the pending call.
type Sender interface {
	Send(ctx context.Context, address string, payload []byte) *rpc.Call
}

type Config struct {
	Endpoint          string
	DocumentsLocation string
	// RPCTimeout bounds the wait for the coordinator. Zero waits until the
	// call completes.
	RPCTimeout time.Duration
}

// UserSearchHandler turns browser search requests into cluster RPCs and
// shapes the ranked reply.
type UserSearchHandler struct {
	directory CoordinatorDirectory
	client    Sender
	cfg       Config
	logger    *zap.Logger
}

func NewUserSearchHandler(directory CoordinatorDirectory, client Sender, cfg Config, logger *zap.Logger) *UserSearchHandler {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &UserSearchHandler{
		directory: directory,
		client:    client,
		cfg:       cfg,
		logger:    logger,
	}
}

func (h *UserSearchHandler) Endpoint() string {
	return h.cfg.Endpoint
}

// HandleRequest never fails: an undecodable request yields an empty body and
// cluster trouble yields an empty result list.
func (h *UserSearchHandler) HandleRequest(ctx context.Context, payload []byte) []byte {
	log := logger.FromContext(ctx, h.logger)

	var req model.FrontendSearchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Warn("failed to decode search request", zap.Error(err))
		return []byte{}
	}

	clusterResp := h.sendRequestToSearchCluster(ctx, log, req.SearchQuery)
	resp := model.NewFrontendSearchResponse(
		shapeResults(clusterResp.RelevantDocuments, req.MaxNumberOfResults, req.MinScore),
		h.cfg.DocumentsLocation,
	)

	out, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to encode search response", zap.Error(err))
		return []byte{}
	}
	return out
}

func (h *UserSearchHandler) sendRequestToSearchCluster(ctx context.Context, log *zap.Logger, query string) model.ClusterSearchResponse {
	searchReq := model.ClusterSearchRequest{SearchQuery: query}

	addr, err := h.directory.RandomAddress(ctx)
	if err != nil {
		if errors.Is(err, cluster.ErrNoCoordinator) {
			log.Warn("search cluster coordinator is unavailable")
		} else {
			log.Error("failed to look up search cluster coordinator", zap.Error(err))
		}
		return model.ClusterSearchResponse{}
	}

	if h.cfg.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RPCTimeout)
		defer cancel()
	}

	body, err := h.client.Send(ctx, addr, searchReq.Marshal()).Wait(ctx)
	if err != nil {
		log.Error("search cluster request failed", zap.String("coordinator", addr), zap.Error(err))
		return model.ClusterSearchResponse{}
	}

	var resp model.ClusterSearchResponse
	if err := resp.Unmarshal(body); err != nil {
		log.Error("failed to decode search cluster reply", zap.String("coordinator", addr), zap.Error(err))
		return model.ClusterSearchResponse{}
	}
	return resp
}

// shapeResults relies on docs arriving sorted by descending score: it stops
// at the first candidate below minScore instead of filtering the whole list.
func shapeResults(docs []model.DocumentStats, maxResults int, minScore float64) []model.SearchResultInfo {
	maxScore := getMaxScore(docs)
	normalize := func(float64) int { return 0 }
	if maxScore > 0 {
		normalize = func(score float64) int { return normalizeScore(score, maxScore) }
	}

	results := []model.SearchResultInfo{}

	for _, doc := range docs {
		if len(results) >= maxResults {
			break
		}

		score := normalize(doc.Score)
		if float64(score) < minScore {
			break
		}

		title, extension := splitDocumentName(doc.DocumentName)
		results = append(results, model.SearchResultInfo{
			Title:     title,
			Extension: extension,
			Score:     score,
		})
	}
	return results
}

func getMaxScore(docs []model.DocumentStats) float64 {
	if len(docs) == 0 {
		return 0
	}
	maxScore := docs[0].Score
	for _, doc := range docs[1:] {
		maxScore = math.Max(maxScore, doc.Score)
	}
	return maxScore
}

// normalizeScore expects maxScore > 0.
func normalizeScore(score, maxScore float64) int {
	normalized := int(math.Floor(score * 100 / maxScore))
	return min(max(normalized, 0), 100)
}

// splitDocumentName handles "title.ext". Any other number of dots leaves the
// whole name as the title with no extension.
func splitDocumentName(name string) (title, extension string) {
	if strings.Count(name, ".") != 1 {
		return name, ""
	}
	title, extension, _ = strings.Cut(name, ".")
	return title, extension
}
