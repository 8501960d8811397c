package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"quickdowntime/internal/core/domain"
	apperrors "quickdowntime/pkg/errors"

	"github.com/gin-gonic/gin"
)

const defaultMaxUploadBytes = 32 << 20

// submissionJSON is the JSON body accepted in place of a multipart form.
type submissionJSON struct {
	MachineID       string `json:"machine_id"`
	Reason          string `json:"reason"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	DurationMinutes *int   `json:"duration_minutes"`
	OperatorEmail   string `json:"operator_email"`
	ImageBase64     string `json:"image_base64"`
	AudioBase64     string `json:"audio_base64"`
}

// readSubmission builds a submission from a multipart/urlencoded form or, when
// the request is JSON, from a submissionJSON body. Uploaded files take
// precedence over base64 fields.
func readSubmission(c *gin.Context, maxUpload int64) (domain.Submission, error) {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)

	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		return readJSONSubmission(c)
	}

	if err := c.Request.ParseMultipartForm(maxUpload); err != nil && err != http.ErrNotMultipart {
		return domain.Submission{}, apperrors.NewInvalidInputError("invalid form data")
	}

	sub := domain.Submission{
		MachineID:     c.PostForm("machine_id"),
		Reason:        c.PostForm("reason"),
		Category:      c.PostForm("category"),
		Description:   c.PostForm("description"),
		OperatorEmail: c.PostForm("operator_email"),
	}

	duration, err := parseDuration(c.PostForm("duration_minutes"))
	if err != nil {
		return domain.Submission{}, err
	}
	sub.DurationMinutes = duration

	if sub.Image, err = formAttachment(c, "image", "image_base64"); err != nil {
		return domain.Submission{}, err
	}
	if sub.Audio, err = formAttachment(c, "audio", "audio_base64"); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func readJSONSubmission(c *gin.Context) (domain.Submission, error) {
	var body submissionJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		return domain.Submission{}, apperrors.NewInvalidInputError("invalid request format")
	}

	sub := domain.Submission{
		MachineID:       body.MachineID,
		Reason:          body.Reason,
		Category:        body.Category,
		Description:     body.Description,
		DurationMinutes: body.DurationMinutes,
		OperatorEmail:   body.OperatorEmail,
	}
	if body.ImageBase64 != "" {
		sub.Image = &domain.Attachment{Base64: body.ImageBase64}
	}
	if body.AudioBase64 != "" {
		sub.Audio = &domain.Attachment{Base64: body.AudioBase64}
	}
	return sub, nil
}

func formAttachment(c *gin.Context, fileField, base64Field string) (*domain.Attachment, error) {
	header, err := c.FormFile(fileField)
	switch {
	case err == nil && header.Filename != "":
		data, err := readFormFile(header)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("failed to read %s upload", fileField))
		}
		return &domain.Attachment{Filename: header.Filename, Data: data}, nil
	case err != nil && err != http.ErrMissingFile && err != http.ErrNotMultipart:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid %s upload", fileField))
	}

	if b64 := strings.TrimSpace(c.PostForm(base64Field)); b64 != "" {
		return &domain.Attachment{Base64: b64}, nil
	}
	return nil, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func parseDuration(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "null", "undefined":
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("duration_minutes must be an integer")
	}
	return &n, nil
}

func parseID(c *gin.Context, raw string) (domain.DowntimeID, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.NewInvalidInputError("invalid downtime id"))
		return 0, false
	}
	return domain.DowntimeID(id), true
}

func fail(c *gin.Context, err error) {
	_ = c.Error(apperrors.From(err))
}
