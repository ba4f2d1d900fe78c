package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/mailer"
	"bitbucket.org/mmdatafocus/photoid_backend/middlewares"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const maxPreviewWidth = 1200

func orderIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

func logStaffAccess(c *gin.Context, settings config.Settings, orderID int, action, note string) {
	if !settings.LogAccess {
		return
	}
	ctx := c.Request.Context()
	userID, userName, _ := middlewares.StaffFromContext(ctx)
	if err := models.LogPhotoIDAccess(config.GetDB(), ctx, orderID, userID, userName, action, note); err != nil {
		config.LogError(config.GetLogger(), "admin", "logStaffAccess", action, orderID, err)
	}
}

// photoIDStatusHandler returns the upload record for one order, for the
// order-detail panel.
func photoIDStatusHandler(repo models.OrderMetadataRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		ledger, err := repo.GetLedger(c.Request.Context(), orderID)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusOK, gin.H{"order_id": orderID, "has_file": false})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order_id":     orderID,
			"has_file":     ledger.HasFile(),
			"record":       ledger,
			"size_display": utils.FormatBytes(ledger.SizeBytes),
		})
	}
}

func openStoredFile(c *gin.Context, repo models.OrderMetadataRepository, store utils.SecureStore, orderID int) (*models.PhotoIDLedger, io.ReadCloser, bool) {
	ctx := c.Request.Context()
	ledger, err := repo.GetLedger(ctx, orderID)
	if err != nil || !ledger.HasFile() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no photo ID on file for this order"})
		return nil, nil, false
	}
	rc, err := store.Open(ctx, ledger.StoragePath)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stored file is missing"})
		} else {
			config.LogError(config.GetLogger(), "admin", "openStoredFile", "opening stored file", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open file"})
		}
		return nil, nil, false
	}
	return ledger, rc, true
}

// downloadHandler streams the stored ID as an attachment under its
// original filename. Every download is access-logged.
func downloadHandler(repo models.OrderMetadataRepository, store utils.SecureStore, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		ledger, rc, ok := openStoredFile(c, repo, store, orderID)
		if !ok {
			return
		}
		defer rc.Close()

		logStaffAccess(c, settings, orderID, models.AccessActionDownload, ledger.StoredFilename)

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ledger.OriginalFilename))
		c.Header("Content-Type", ledger.MimeType)
		c.Header("Cache-Control", "no-store")
		if _, err := io.Copy(c.Writer, rc); err != nil {
			config.LogError(config.GetLogger(), "admin", "downloadHandler", "streaming file", orderID, err)
		}
	}
}

// previewHandler serves an inline, optionally downscaled, rendition for
// the review screen. Width is clamped; upscaling is never done.
func previewHandler(repo models.OrderMetadataRepository, store utils.SecureStore, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		ledger, rc, ok := openStoredFile(c, repo, store, orderID)
		if !ok {
			return
		}
		defer rc.Close()

		logStaffAccess(c, settings, orderID, models.AccessActionPreview, ledger.StoredFilename)

		width, _ := strconv.Atoi(c.Query("width"))
		if width <= 0 {
			c.Header("Content-Disposition", "inline")
			c.Header("Content-Type", ledger.MimeType)
			c.Header("Cache-Control", "no-store")
			io.Copy(c.Writer, rc)
			return
		}
		if width > maxPreviewWidth {
			width = maxPreviewWidth
		}

		img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode image"})
			return
		}
		if img.Bounds().Dx() > width {
			img = imaging.Resize(img, width, 0, imaging.Lanczos)
		}

		var buf bytes.Buffer
		format := imaging.JPEG
		contentType := "image/jpeg"
		if ledger.MimeType == "image/png" {
			format = imaging.PNG
			contentType = "image/png"
		}
		if err := imaging.Encode(&buf, img, format); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode image"})
			return
		}

		c.Header("Content-Disposition", "inline")
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, contentType, buf.Bytes())
	}
}

type requestUploadInput struct {
	CustomNote string `json:"custom_note"`
}

// issueRequest mints a fresh re-upload token for the order, persists the
// salt and expiry (invalidating any earlier link) and emails the customer.
func issueRequest(c *gin.Context, repo models.OrderMetadataRepository, mail *mailer.Client, settings config.Settings, orderID int, customNote string) error {
	ctx := c.Request.Context()
	db := config.GetDB()

	order, err := models.GetOrder(db, ctx, orderID)
	if err != nil {
		return err
	}

	token, salt, expiry, err := utils.IssueReuploadToken(order.ID, order.CustomerEmail, time.Now(), settings.TokenTTL)
	if err != nil {
		return err
	}

	ledger, err := repo.GetLedger(ctx, orderID)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		ledger = &models.PhotoIDLedger{OrderID: orderID}
	}
	now := time.Now()
	userID, userName, _ := middlewares.StaffFromContext(ctx)
	ledger.TokenSalt = salt
	ledger.TokenExpiry = &expiry
	ledger.RequestedAt = &now
	ledger.RequestedBy = userID
	if err := repo.SaveLedger(ctx, ledger); err != nil {
		return err
	}

	uploadURL := fmt.Sprintf("%s/reupload?order=%d&token=%s", settings.BaseURL, order.ID, url.QueryEscape(token))
	if mail.Enabled() {
		if err := mail.SendRequestEmail(ctx, order, uploadURL, customNote); err != nil {
			return err
		}
	}

	logStaffAccess(c, settings, orderID, models.AccessActionRequest, "requested by "+userName)
	return nil
}

func requestUploadHandler(repo models.OrderMetadataRepository, mail *mailer.Client, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		var input requestUploadInput
		c.ShouldBindJSON(&input)

		if err := issueRequest(c, repo, mail, settings, orderID, input.CustomNote); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			config.LogError(config.GetLogger(), "admin", "requestUploadHandler", "sending request", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requested": true})
	}
}

type bulkRequestInput struct {
	OrderIDs   []int  `json:"order_ids" binding:"required,min=1"`
	CustomNote string `json:"custom_note"`
}

// bulkRequestHandler sends upload requests for many orders at once.
// Per-order failures are collected, not fatal.
func bulkRequestHandler(repo models.OrderMetadataRepository, mail *mailer.Client, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input bulkRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_ids is required"})
			return
		}

		sent := 0
		failed := make(map[string]string)
		for _, orderID := range input.OrderIDs {
			if err := issueRequest(c, repo, mail, settings, orderID, input.CustomNote); err != nil {
				failed[strconv.Itoa(orderID)] = err.Error()
				continue
			}
			sent++
		}
		c.JSON(http.StatusOK, gin.H{"sent": sent, "failed": failed})
	}
}

// eraseHandler deletes the stored file and blanks the file fields.
// Upload-error and request history stay on the record.
func eraseHandler(repo models.OrderMetadataRepository, store utils.SecureStore, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		ledger, err := repo.GetLedger(ctx, orderID)
		if err != nil || !ledger.HasFile() {
			c.JSON(http.StatusNotFound, gin.H{"error": "no photo ID on file for this order"})
			return
		}

		if err := store.Erase(ctx, ledger.StoragePath); err != nil {
			config.LogError(config.GetLogger(), "admin", "eraseHandler", "erasing file", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to erase file"})
			return
		}
		if err := repo.ClearFileFields(ctx, orderID); err != nil {
			config.LogError(config.GetLogger(), "admin", "eraseHandler", "clearing record", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update record"})
			return
		}

		logStaffAccess(c, settings, orderID, models.AccessActionErase, ledger.StoredFilename)
		c.JSON(http.StatusOK, gin.H{"erased": true})
	}
}

type exportRow struct {
	OrderID          int
	OrderNumber      string
	CustomerName     string
	CustomerEmail    string
	StoredFilename   string
	OriginalFilename string
	SizeBytes        int64
	UploadedAt       *time.Time
	UploadError      string
	RequestedAt      *time.Time
}

// exportHandler writes an XLSX summary of upload status across orders.
func exportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		db := config.GetDB()

		var rows []exportRow
		err := db.WithContext(ctx).
			Table("photo_id_ledgers").
			Select("photo_id_ledgers.order_id, orders.order_number, orders.customer_name, orders.customer_email, photo_id_ledgers.stored_filename, photo_id_ledgers.original_filename, photo_id_ledgers.size_bytes, photo_id_ledgers.uploaded_at, photo_id_ledgers.upload_error, photo_id_ledgers.requested_at").
			Joins("LEFT JOIN orders ON orders.id = photo_id_ledgers.order_id").
			Order("photo_id_ledgers.order_id").
			Scan(&rows).Error
		if err != nil {
			config.LogError(config.GetLogger(), "admin", "exportHandler", "querying records", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export"})
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"

		headers := []string{"OrderNumber", "CustomerName", "CustomerEmail", "StoredFilename", "OriginalFilename", "Size", "UploadedAt", "UploadError", "RequestedAt"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for i, r := range rows {
			values := []interface{}{
				r.OrderNumber,
				r.CustomerName,
				r.CustomerEmail,
				r.StoredFilename,
				r.OriginalFilename,
				utils.FormatBytes(r.SizeBytes),
				formatTimePtr(r.UploadedAt),
				r.UploadError,
				formatTimePtr(r.RequestedAt),
			}
			for j, v := range values {
				cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
				f.SetCellValue(sheet, cell, v)
			}
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=photo-id-export.xlsx")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "admin", "exportHandler", "writing workbook", nil, err)
		}
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// privacyExportHandler returns everything held about a customer's uploads,
// for personal-data export requests.
func privacyExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Query("email")
		if !utils.IsValidEmail(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
			return
		}
		ctx := c.Request.Context()

		ledgers, orders, err := models.LedgersForEmail(config.GetDB(), ctx, email)
		if err != nil {
			config.LogError(config.GetLogger(), "admin", "privacyExportHandler", "querying records", email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export"})
			return
		}

		numbers := make(map[int]string, len(orders))
		for _, o := range orders {
			numbers[o.ID] = o.OrderNumber
		}

		items := make([]gin.H, 0, len(ledgers))
		for _, l := range ledgers {
			items = append(items, gin.H{
				"order_number":      numbers[l.OrderID],
				"original_filename": l.OriginalFilename,
				"mime_type":         l.MimeType,
				"size_bytes":        l.SizeBytes,
				"uploaded_at":       l.UploadedAt,
				"upload_error":      l.UploadError,
			})
		}
		c.JSON(http.StatusOK, gin.H{"email": email, "items": items})
	}
}

type privacyEraseInput struct {
	Email string `json:"email" binding:"required"`
}

// privacyEraseHandler erases a customer's stored IDs on request. Files on
// orders still inside the retention window of an open order are retained;
// everything else is erased and the file fields cleared.
func privacyEraseHandler(repo models.OrderMetadataRepository, store utils.SecureStore, settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input privacyEraseInput
		if err := c.ShouldBindJSON(&input); err != nil || !utils.IsValidEmail(input.Email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
			return
		}
		ctx := c.Request.Context()
		logger := config.GetLogger()

		ledgers, orders, err := models.LedgersForEmail(config.GetDB(), ctx, input.Email)
		if err != nil {
			config.LogError(logger, "admin", "privacyEraseHandler", "querying records", input.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to erase"})
			return
		}

		status := make(map[int]models.OrderStatus, len(orders))
		for _, o := range orders {
			status[o.ID] = o.Status
		}

		erased, retained := 0, 0
		for _, l := range ledgers {
			if !l.HasFile() {
				continue
			}
			// keep IDs that an open order may still need for verification
			if s, ok := status[l.OrderID]; ok && s != models.OrderStatusCompleted && s != models.OrderStatusCancelled {
				retained++
				continue
			}
			if err := store.Erase(ctx, l.StoragePath); err != nil {
				config.LogError(logger, "admin", "privacyEraseHandler", "erasing file", l.OrderID, err)
				continue
			}
			if err := repo.ClearFileFields(ctx, l.OrderID); err != nil {
				config.LogError(logger, "admin", "privacyEraseHandler", "clearing record", l.OrderID, err)
				continue
			}
			logStaffAccess(c, settings, l.OrderID, models.AccessActionErase, "privacy erasure")
			erased++
		}
		c.JSON(http.StatusOK, gin.H{"erased": erased, "retained": retained})
	}
}

// accessLogHandler lists the access trail for one order.
func accessLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := orderIDParam(c)
		if !ok {
			return
		}
		var entries []models.PhotoIDAccessLog
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("order_id = ?", orderID).
			Order("created_at DESC").
			Find(&entries).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load log"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": orderID, "entries": entries})
	}
}
