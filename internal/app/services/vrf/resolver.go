package vrf

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/httputil"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Resolver produces random words for a pending request.
type Resolver interface {
	Resolve(ctx context.Context, req randomness.Request) (done bool, words []uint64, errMsg string, retryAfter time.Duration, err error)
}

// LocalResolver draws words from the operating system entropy pool after an
// optional delay imitating oracle confirmation latency.
type LocalResolver struct {
	delay time.Duration
	log   *logger.Logger
}

// NewLocalResolver constructs a resolver backed by crypto/rand.
func NewLocalResolver(delay time.Duration, log *logger.Logger) *LocalResolver {
	if log == nil {
		log = logger.NewDefault("vrf-local-resolver")
	}
	return &LocalResolver{delay: delay, log: log}
}

func (r *LocalResolver) Resolve(ctx context.Context, req randomness.Request) (bool, []uint64, string, time.Duration, error) {
	_ = ctx
	if r.delay > 0 {
		if remaining := time.Until(req.CreatedAt.Add(r.delay)); remaining > 0 {
			return false, nil, "", remaining, nil
		}
	}

	words, err := GenerateWords(req.Words)
	if err != nil {
		return false, nil, "", 0, err
	}
	r.log.Debugf("generated %d random words for request %s", len(words), req.ID)
	return true, words, "", 0, nil
}

// GenerateWords returns cryptographically secure random words.
func GenerateWords(count int) ([]uint64, error) {
	if count <= 0 {
		count = 1
	}
	buf := make([]byte, 8*count)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	words := make([]uint64, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return words, nil
}

// BeaconResolver fetches words from an external randomness beacon. The words
// are extracted from the JSON response with a JSONPath expression so one
// resolver covers beacons with different payload shapes.
type BeaconResolver struct {
	client    *http.Client
	endpoint  *url.URL
	wordsPath string
	apiKey    string
	log       *logger.Logger
}

// NewBeaconResolver constructs a resolver using the provided beacon endpoint.
func NewBeaconResolver(client *http.Client, endpoint, wordsPath, apiKey string, log *logger.Logger) (*BeaconResolver, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("beacon endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse beacon endpoint: %w", err)
	}
	wordsPath = strings.TrimSpace(wordsPath)
	if wordsPath == "" {
		wordsPath = "$.words"
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("vrf-beacon-resolver")
	}
	return &BeaconResolver{
		client:    client,
		endpoint:  parsed,
		wordsPath: wordsPath,
		apiKey:    strings.TrimSpace(apiKey),
		log:       log,
	}, nil
}

func (r *BeaconResolver) Resolve(ctx context.Context, req randomness.Request) (bool, []uint64, string, time.Duration, error) {
	requestURL := *r.endpoint
	q := requestURL.Query()
	q.Set("request_id", req.ID)
	q.Set("count", strconv.Itoa(req.Words))
	if req.KeyHash != "" {
		q.Set("key_hash", req.KeyHash)
	}
	if req.SubscriptionID != "" {
		q.Set("subscription_id", req.SubscriptionID)
	}
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, nil, "", 0, fmt.Errorf("build beacon request: %w", err)
	}
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return false, nil, "", 0, fmt.Errorf("beacon request: %w", err)
	}

	var doc interface{}
	if err := httputil.DecodeResponse(resp, &doc); err != nil {
		return false, nil, "", 0, err
	}

	value, err := jsonpath.Get(r.wordsPath, doc)
	if err != nil {
		return false, nil, "", 0, fmt.Errorf("extract words at %s: %w", r.wordsPath, err)
	}

	words, err := coerceWords(value)
	if err != nil {
		return false, nil, "", 0, err
	}
	if len(words) < req.Words {
		return false, nil, "", 0, fmt.Errorf("beacon returned %d words, need %d", len(words), req.Words)
	}
	return true, words[:req.Words], "", 0, nil
}

func coerceWords(value interface{}) ([]uint64, error) {
	if items, ok := value.([]interface{}); ok {
		words := make([]uint64, 0, len(items))
		for _, item := range items {
			word, err := coerceWord(item)
			if err != nil {
				return nil, err
			}
			words = append(words, word)
		}
		return words, nil
	}
	word, err := coerceWord(value)
	if err != nil {
		return nil, err
	}
	return []uint64{word}, nil
}

func coerceWord(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative word %v", v)
		}
		return uint64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
			word, err := strconv.ParseUint(trimmed[2:], 16, 64)
			if err != nil {
				return 0, fmt.Errorf("parse hex word %q: %w", v, err)
			}
			return word, nil
		}
		word, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse word %q: %w", v, err)
		}
		return word, nil
	default:
		return 0, fmt.Errorf("unsupported word type %T", value)
	}
}
