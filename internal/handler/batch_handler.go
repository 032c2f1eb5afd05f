package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/smartgeocode/geobatch/internal/auth"
	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/provider"
	"github.com/smartgeocode/geobatch/internal/service"
)

const (
	uploadFormField = "file"
	maxListLimit    = 100
)

// BatchAPI is the slice of the batch service the HTTP layer needs.
type BatchAPI interface {
	Submit(ctx context.Context, owner string, file io.Reader) (*domain.BatchJob, error)
	GetStatus(ctx context.Context, owner, batchID string) (*service.BatchStatusView, error)
	Download(ctx context.Context, owner, batchID string, w io.Writer) error
	List(ctx context.Context, owner string, limit int) ([]domain.BatchJob, error)
	Usage(ctx context.Context, owner string) (*domain.Usage, error)
}

// LookupAPI is the synchronous single-address geocode service.
type LookupAPI interface {
	Lookup(ctx context.Context, owner, address string) (*provider.Result, error)
}

type BatchHandler struct {
	batches BatchAPI
	lookups LookupAPI
}

func NewBatchHandler(batches BatchAPI, lookups LookupAPI) (*BatchHandler, error) {
	if batches == nil || lookups == nil {
		return nil, fmt.Errorf("batch and lookup services are required")
	}
	return &BatchHandler{batches: batches, lookups: lookups}, nil
}

func RegisterBatchRoutes(router fiber.Router, batches BatchAPI, lookups LookupAPI) error {
	h, err := NewBatchHandler(batches, lookups)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.SubmitBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:batchId", h.GetBatchStatus)
	v1.Get("/batches/:batchId/download", h.DownloadBatch)
	v1.Get("/geocode", h.Lookup)
	v1.Get("/usage", h.GetUsage)

	return nil
}

type batchJobResponse struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	TotalRows     int       `json:"totalRows"`
	ProcessedRows int       `json:"processedRows"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type rowResponse struct {
	Index            int        `json:"index"`
	Address          string     `json:"address"`
	Status           string     `json:"status"`
	Lat              *float64   `json:"lat,omitempty"`
	Lng              *float64   `json:"lng,omitempty"`
	FormattedAddress string     `json:"formattedAddress,omitempty"`
	Error            string     `json:"error,omitempty"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}

type batchStatusResponse struct {
	batchJobResponse
	Preview []rowResponse `json:"preview"`
}

type listBatchesResponse struct {
	Data []batchJobResponse `json:"data"`
}

type lookupResponse struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formattedAddress"`
	Confidence       float64 `json:"confidence"`
}

type usageResponse struct {
	Period    string `json:"period"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not read uploaded file")
	}
	defer file.Close()

	job, err := h.batches.Submit(c.Context(), owner, file)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchJobResponse(job))
}

func (h *BatchHandler) GetBatchStatus(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	view, err := h.batches.GetStatus(c.Context(), owner, strings.TrimSpace(c.Params("batchId")))
	if err != nil {
		return toHTTPError(err)
	}

	preview := make([]rowResponse, 0, len(view.Preview))
	for i := range view.Preview {
		preview = append(preview, toRowResponse(&view.Preview[i]))
	}

	return c.Status(fiber.StatusOK).JSON(batchStatusResponse{
		batchJobResponse: toBatchJobResponse(&view.Job),
		Preview:          preview,
	})
}

func (h *BatchHandler) DownloadBatch(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	batchID := strings.TrimSpace(c.Params("batchId"))

	var buf bytes.Buffer
	if err := h.batches.Download(c.Context(), owner, batchID, &buf); err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "geocode-results-"+batchID+".csv"))
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	limit := c.QueryInt("limit", 0)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := h.batches.List(c.Context(), owner, limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchJobResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, toBatchJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{Data: data})
}

func (h *BatchHandler) Lookup(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	result, err := h.lookups.Lookup(c.Context(), owner, c.Query("address"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(lookupResponse{
		Lat:              result.Lat,
		Lng:              result.Lng,
		FormattedAddress: result.FormattedAddress,
		Confidence:       result.Confidence,
	})
}

func (h *BatchHandler) GetUsage(c *fiber.Ctx) error {
	owner, ok := auth.OwnerFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	usage, err := h.batches.Usage(c.Context(), owner)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(usageResponse{
		Period:    usage.Period,
		Used:      usage.Used,
		Limit:     usage.Limit,
		Remaining: usage.Remaining(),
	})
}

func toBatchJobResponse(job *domain.BatchJob) batchJobResponse {
	if job == nil {
		return batchJobResponse{}
	}
	return batchJobResponse{
		ID:            job.ID,
		Status:        job.Status.String(),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

func toRowResponse(row *domain.Row) rowResponse {
	return rowResponse{
		Index:            row.Index,
		Address:          row.Address,
		Status:           row.Status.String(),
		Lat:              row.Lat,
		Lng:              row.Lng,
		FormattedAddress: row.FormattedAddress,
		Error:            row.ErrorReason,
		ProcessedAt:      row.ProcessedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded), errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, provider.ErrNoMatch):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
