package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/authority"
	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/node"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/resolver"
	"github.com/ZentaChain/marp-node/pkg/response"
	"github.com/ZentaChain/marp-node/pkg/storage"
)

// RecordJSON is one record as rendered by the API. Payload is base64.
type RecordJSON struct {
	Protocol  uint16    `json:"protocol"`
	TTL       uint16    `json:"ttl"`
	Timestamp time.Time `json:"timestamp"`
	Expired   bool      `json:"expired"`
	Payload   []byte    `json:"payload"`
}

// ResponseJSON is a Response as rendered by the API.
type ResponseJSON struct {
	Hash          string       `json:"hash"`
	Authoritative bool         `json:"authoritative"`
	Signer        string       `json:"signer,omitempty"`
	Records       []RecordJSON `json:"records"`
}

// PublishRequest sets one record. Exactly one of Name and Hash is used; Name
// is hashed the same way query names are.
type PublishRequest struct {
	Name     string `json:"name"`
	Hash     string `json:"hash"`
	Protocol uint16 `json:"protocol"`
	TTL      uint16 `json:"ttl" binding:"required"`
	Payload  []byte `json:"payload" binding:"required"`
}

func renderResponse(resp *response.Response) ResponseJSON {
	now := time.Now()
	out := ResponseJSON{
		Hash:          resp.Identifier().String(),
		Authoritative: resp.IsAuthoritative(),
		Records:       make([]RecordJSON, 0, resp.RecordCount()),
	}
	if out.Authoritative {
		if key, err := authority.RecoverSigner(resp); err == nil {
			out.Signer = crypto.ExportPublicKeyHex(key)
		}
	}
	for _, rec := range resp.Records() {
		out.Records = append(out.Records, RecordJSON{
			Protocol:  rec.Protocol,
			TTL:       rec.TTL,
			Timestamp: rec.Time(),
			Expired:   rec.Expired(now),
			Payload:   rec.Payload,
		})
	}
	return out
}

// parseTarget accepts a 64 character hex hash or a name to hash.
func parseTarget(s string) response.Hash {
	if h, err := response.ParseHash(s); err == nil {
		return h
	}
	return crypto.NameHash(s)
}

func parseProtocols(raw string) ([]uint16, error) {
	if raw == "" {
		return nil, nil
	}
	var out []uint16
	for _, p := range strings.Split(raw, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, errors.Errorf("invalid protocol %q", p)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, node.ErrRecordNotFound),
		errors.Is(err, resolver.ErrNoAnswer),
		errors.Is(err, resolver.ErrNoAuthoritativeAnswer):
		return http.StatusNotFound
	case errors.Is(err, response.ErrPayloadTooLarge),
		errors.Is(err, response.ErrTooManyRecords):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("request error", "path", c.Request.URL.Path, "err", err)
	}
	c.JSON(status, ErrorResponse{Error: http.StatusText(status), Message: err.Error()})
}

// handleResolve handles GET /api/v1/resolve/:name?protocols=1,2&depth=2&authoritative=true
func (s *Server) handleResolve(c *gin.Context) {
	protocols, err := parseProtocols(c.Query("protocols"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid protocols", Message: err.Error()})
		return
	}
	if len(protocols) > response.MaxRecords {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid protocols", Message: query.ErrTooManyProtocols.Error()})
		return
	}

	var opts resolver.Options
	if raw := c.Query("depth"); raw != "" {
		depth, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || depth > protocol.MaxRecurseDepth {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid depth"})
			return
		}
		opts.Depth = uint8(depth)
	}
	opts.AuthoritativeOnly = c.Query("authoritative") == "true"

	q := &query.Query{Hash: parseTarget(c.Param("name")), Protocols: protocols}
	resp, err := s.backend.Resolve(c.Request.Context(), q, opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResponse(resp))
}

// handleGetRecords handles GET /api/v1/records/:hash
func (s *Server) handleGetRecords(c *gin.Context) {
	resp, err := s.backend.Local(parseTarget(c.Param("hash")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResponse(resp))
}

// handlePublish handles POST /api/v1/records
func (s *Server) handlePublish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	var hash response.Hash
	switch {
	case req.Hash != "":
		h, err := response.ParseHash(req.Hash)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid hash", Message: err.Error()})
			return
		}
		hash = h
	case req.Name != "":
		hash = crypto.NameHash(req.Name)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "name or hash is required"})
		return
	}

	resp, err := s.backend.Publish(hash, req.Protocol, req.Payload, req.TTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResponse(resp))
}

// handleUnpublish handles DELETE /api/v1/records/:hash/:protocol
func (s *Server) handleUnpublish(c *gin.Context) {
	proto, err := strconv.ParseUint(c.Param("protocol"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid protocol"})
		return
	}
	if err := s.backend.Unpublish(parseTarget(c.Param("hash")), uint16(proto)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNodeStats(c *gin.Context) {
	stats, err := s.backend.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
