package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"bitbucket.org/mmdatafocus/photoid_backend/workflow"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/photoid_backend")

// uploadFieldName is the multipart field customers post their ID under.
const uploadFieldName = "photo_id"

type requirementRequest struct {
	LineItems []struct {
		ProductID   int   `json:"product_id" binding:"required"`
		CategoryIDs []int `json:"category_ids"`
	} `json:"line_items" binding:"required"`
}

// requirementHandler answers whether the given cart needs a photo ID.
// Carts are re-evaluated server-side again at order creation; this exists
// so the checkout UI knows whether to show the upload field.
func requirementHandler(settings config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req requirementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		items := make([]models.CartItem, 0, len(req.LineItems))
		for _, li := range req.LineItems {
			items = append(items, models.CartItem{ProductID: li.ProductID, CategoryIDs: li.CategoryIDs})
		}

		c.JSON(http.StatusOK, gin.H{
			"required":       models.PhotoIDRequired(items, settings),
			"max_size_bytes": settings.MaxUploadBytes,
			"allowed_types":  settings.AllowedTypes,
		})
	}
}

// readUploadFile pulls the posted file into memory, capped one byte over
// the limit so oversize files fail the size check instead of truncating.
func readUploadFile(c *gin.Context, maxBytes int64) (filename string, size int64, data []byte, err error) {
	fileHeader, err := c.FormFile(uploadFieldName)
	if err != nil {
		return "", 0, nil, utils.ErrMissingFile
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", 0, nil, err
	}
	defer src.Close()

	data, err = io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return "", 0, nil, err
	}
	size = fileHeader.Size
	if int64(len(data)) > size {
		size = int64(len(data))
	}
	return fileHeader.Filename, size, data, nil
}

func uploadErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, utils.ErrMissingFile):
		return http.StatusBadRequest, "please select a file to upload"
	case errors.Is(err, utils.ErrFileType):
		return http.StatusBadRequest, "only JPG and PNG files are allowed"
	case errors.Is(err, utils.ErrFileSize):
		return http.StatusBadRequest, "file exceeds the maximum allowed size"
	default:
		return http.StatusInternalServerError, "upload failed"
	}
}

// stageUploadHandler accepts the checkout-time upload before the order
// exists. Validated files go to the staging area and the caller gets back
// an opaque upload id to attach to the order payload.
func stageUploadHandler(staging *models.StagingArea, settings config.Settings, bus *workflow.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx, span := tracer.Start(c.Request.Context(), "photoid.stage", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		filename, size, data, err := readUploadFile(c, settings.MaxUploadBytes)
		if err == nil {
			err = utils.ValidateUpload(filename, size, data, settings.MaxUploadBytes, settings.AllowedTypes)
		}
		if err != nil {
			status, msg := uploadErrorStatus(err)
			if status == http.StatusInternalServerError {
				config.LogError(logger, "uploads", "stageUploadHandler", "reading upload", filename, err)
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}

		mime := http.DetectContentType(data)
		uploadID, err := staging.Stage(ctx, data, filename, mime, time.Now())
		if err != nil {
			config.LogError(logger, "uploads", "stageUploadHandler", "staging upload", filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		span.SetAttributes(attribute.String("photoid.upload_id", uploadID))
		bus.Publish(ctx, workflow.Event{
			Name:     workflow.EventUploadValidated,
			UploadID: uploadID,
			Filename: filename,
		})

		c.JSON(http.StatusOK, gin.H{
			"upload_id":  uploadID,
			"expires_at": time.Now().Add(settings.StagingTTL).UTC().Format(time.RFC3339),
		})
	}
}

// createOrderHandler finalizes checkout. When the cart requires an ID the
// staged upload named by upload_id is consumed into the secure store in the
// same transaction that creates the order. A missing or broken upload either
// blocks the order or records the failure on the ledger, per settings.
func createOrderHandler(staging *models.StagingArea, store utils.SecureStore, settings config.Settings, bus *workflow.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		db := config.GetDB()
		ctx, span := tracer.Start(c.Request.Context(), "photoid.createOrder")
		defer span.End()

		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		order, err := input.MapInput()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		required := models.PhotoIDRequired(order.AdmissionItems(), settings)
		if required && input.UploadID == "" && settings.BlockIfMissing {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a photo ID upload is required for this order"})
			return
		}

		var uploadErr error
		var stored *utils.StoredFile

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := order.Store(tx, ctx); err != nil {
				return err
			}
			span.SetAttributes(attribute.Int("order.id", order.ID))

			if !required {
				return nil
			}

			if input.UploadID != "" {
				stored, uploadErr = staging.Consume(ctx, input.UploadID, order.ID, store, time.Now())
			} else {
				uploadErr = utils.ErrMissingFile
			}

			if uploadErr != nil {
				if blockOrderOnUploadError(uploadErr, settings) {
					return uploadErr
				}
				// order proceeds; leave the failure on the ledger
				txRepo := models.NewOrderMetadataRepository(tx)
				return txRepo.RecordError(ctx, order.ID, uploadErrorMessage(uploadErr))
			}

			ledger := &models.PhotoIDLedger{OrderID: order.ID}
			ledger.SetStoredFile(stored)
			return models.NewOrderMetadataRepository(tx).SaveLedger(ctx, ledger)
		})
		if err != nil {
			if utils.IsValidationError(err) || errors.Is(err, utils.ErrNotFound) || errors.Is(err, utils.ErrAlreadyConsumed) {
				c.JSON(http.StatusBadRequest, gin.H{"error": uploadErrorMessage(err)})
				return
			}
			config.LogError(logger, "uploads", "createOrderHandler", "creating order", input.CustomerEmail, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
			return
		}

		if required {
			if uploadErr != nil {
				bus.Publish(ctx, workflow.Event{
					Name:     workflow.EventUploadFailed,
					OrderID:  order.ID,
					UploadID: input.UploadID,
					Error:    uploadErrorMessage(uploadErr),
				})
			} else {
				bus.Publish(ctx, workflow.Event{
					Name:     workflow.EventUploadPromoted,
					OrderID:  order.ID,
					UploadID: input.UploadID,
					Filename: stored.StoredFilename,
				})
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":           order.ID,
			"order_number": order.OrderNumber,
			"status":       order.Status,
			"total_amount": order.TotalAmount,
		})
	}
}

// blockOrderOnUploadError reports whether a failed consume should abort
// order creation. Rejected or unusable uploads block when configured to.
// Storage failures never block: Consume has already tombstoned the staged
// entry by the time the store fails, so aborting would burn the upload id
// without giving the customer any way to retry.
func blockOrderOnUploadError(err error, settings config.Settings) bool {
	if !settings.BlockIfMissing {
		return false
	}
	var storageErr *utils.StorageError
	return !errors.As(err, &storageErr)
}

func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrMissingFile):
		return "no photo ID was uploaded"
	case errors.Is(err, utils.ErrFileType):
		return "only JPG and PNG files are allowed"
	case errors.Is(err, utils.ErrFileSize):
		return "file exceeds the maximum allowed size"
	case errors.Is(err, utils.ErrNotFound):
		return "the uploaded file has expired, please upload again"
	case errors.Is(err, utils.ErrAlreadyConsumed):
		return "the uploaded file was already used"
	default:
		return "upload failed"
	}
}

// verifyReuploadRequest authorizes a token-gated re-upload and loads the
// order and ledger it targets. The token binds order id, billing email and
// the salt stored on the ledger.
func verifyReuploadRequest(c *gin.Context, repo models.OrderMetadataRepository) (*models.Order, *models.PhotoIDLedger, bool) {
	db := config.GetDB()
	ctx := c.Request.Context()

	orderID, err := strconv.Atoi(c.Query("order"))
	token := c.Query("token")
	if err != nil || orderID <= 0 || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link"})
		return nil, nil, false
	}

	ledger, err := repo.GetLedger(ctx, orderID)
	if err != nil {
		// unknown order and bad token look the same to the caller
		c.JSON(http.StatusForbidden, gin.H{"error": "this link is invalid or has expired"})
		return nil, nil, false
	}
	if ledger.TokenSalt == "" || ledger.TokenExpiry == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "this link is invalid or has expired"})
		return nil, nil, false
	}

	order, err := models.GetOrder(db, ctx, orderID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "this link is invalid or has expired"})
		return nil, nil, false
	}

	err = utils.VerifyReuploadToken(orderID, order.CustomerEmail, ledger.TokenSalt, *ledger.TokenExpiry, token, time.Now())
	if err != nil {
		msg := "this link is invalid or has expired"
		if errors.Is(err, utils.ErrTokenExpired) {
			msg = "this link has expired, please ask for a new one"
		}
		c.JSON(http.StatusForbidden, gin.H{"error": msg})
		return nil, nil, false
	}
	return order, ledger, true
}

// reuploadFormHandler tells the re-upload page what it is replacing.
func reuploadFormHandler(repo models.OrderMetadataRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ledger, ok := verifyReuploadRequest(c, repo)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order_number":  order.OrderNumber,
			"customer_name": order.CustomerName,
			"has_file":      ledger.HasFile(),
			"upload_error":  ledger.UploadError,
		})
	}
}

// reuploadSubmitHandler replaces (or supplies) the ID for an existing
// order. The file skips staging and promotes straight into the secure
// store; the previous file, if any, is erased after the ledger points at
// the new one.
func reuploadSubmitHandler(repo models.OrderMetadataRepository, staging *models.StagingArea, store utils.SecureStore, settings config.Settings, bus *workflow.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx, span := tracer.Start(c.Request.Context(), "photoid.reupload")
		defer span.End()

		order, ledger, ok := verifyReuploadRequest(c, repo)
		if !ok {
			return
		}
		span.SetAttributes(attribute.Int("order.id", order.ID))

		filename, size, data, err := readUploadFile(c, settings.MaxUploadBytes)
		if err == nil {
			err = utils.ValidateUpload(filename, size, data, settings.MaxUploadBytes, settings.AllowedTypes)
		}
		if err != nil {
			status, msg := uploadErrorStatus(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}

		mime := http.DetectContentType(data)
		uploadID, err := staging.Stage(ctx, data, filename, mime, time.Now())
		if err != nil {
			config.LogError(logger, "uploads", "reuploadSubmitHandler", "staging re-upload", order.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		stored, err := staging.Consume(ctx, uploadID, order.ID, store, time.Now())
		if err != nil {
			config.LogError(logger, "uploads", "reuploadSubmitHandler", "promoting re-upload", order.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		previousPath := ledger.StoragePath
		ledger.SetStoredFile(stored)
		if err := repo.SaveLedger(ctx, ledger); err != nil {
			config.LogError(logger, "uploads", "reuploadSubmitHandler", "saving ledger", order.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		if previousPath != "" && previousPath != stored.StoragePath {
			if err := store.Erase(ctx, previousPath); err != nil {
				config.LogError(logger, "uploads", "reuploadSubmitHandler", "erasing replaced file", order.ID, err)
			}
		}

		bus.Publish(ctx, workflow.Event{
			Name:     workflow.EventUploadPromoted,
			OrderID:  order.ID,
			UploadID: uploadID,
			Filename: stored.StoredFilename,
		})

		c.JSON(http.StatusOK, gin.H{
			"order_number": order.OrderNumber,
			"uploaded_at":  stored.UploadedAt.UTC().Format(time.RFC3339),
		})
	}
}
