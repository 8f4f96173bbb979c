package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/service"
	"github.com/roach88/poam/internal/store"
)

// RoundView is the JSON form of a recorded round.
type RoundView struct {
	ID              string        `json:"id"`
	ChainID         string        `json:"chain_id"`
	Round           uint64        `json:"round"`
	ImageID         string        `json:"image_id"`
	PreviousImageID string        `json:"previous_image_id,omitempty"`
	Rules           *ir.RuleInput `json:"rules,omitempty"`
	Result          string        `json:"result"`
	Seq             int64         `json:"seq"`
}

// ChainResponse is the body of GET /v1/chains/:id.
type ChainResponse struct {
	ChainID string      `json:"chain_id"`
	Rounds  []RoundView `json:"rounds"`
}

// ReplayResponse is the body of GET /v1/chains/:id/replay.
type ReplayResponse struct {
	ChainID string   `json:"chain_id"`
	Rounds  int      `json:"rounds"`
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues,omitempty"`
}

func toRoundView(r store.RoundRecord) RoundView {
	v := RoundView{
		ID:      r.ID,
		ChainID: r.ChainID,
		Round:   r.Round,
		ImageID: r.ImageID.String(),
		Rules:   r.Rules,
		Result:  r.Result,
		Seq:     r.Seq,
	}
	if r.PreviousImageID != nil {
		v.PreviousImageID = r.PreviousImageID.String()
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.svc.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProve(c *gin.Context) {
	var req service.ProveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.svc.Prove(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCompose(c *gin.Context) {
	var req service.ComposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.svc.Compose(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleVerify answers 200 for both valid and invalid proofs; only
// malformed input is an error.
func (s *Server) handleVerify(c *gin.Context) {
	var p ir.Proof
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.svc.Verify(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGuests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"guests": s.svc.Guests()})
}

func (s *Server) handleChain(c *gin.Context) {
	id := c.Param("id")
	records, err := s.svc.Chain(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(records) == 0 {
		writeError(c, store.ErrNotFound)
		return
	}
	resp := ChainResponse{ChainID: id, Rounds: make([]RoundView, len(records))}
	for i, r := range records {
		resp.Rounds[i] = toRoundView(r)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReplay(c *gin.Context) {
	res, err := s.svc.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := ReplayResponse{ChainID: res.ChainID, Rounds: res.Rounds, Valid: res.Valid}
	for _, issue := range res.Issues {
		resp.Issues = append(resp.Issues, issue.String())
	}
	c.JSON(http.StatusOK, resp)
}
