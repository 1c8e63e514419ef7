package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
	"github.com/sitestock/sitestock/internal/objects"
	"github.com/sitestock/sitestock/internal/platform/httpx"
	"github.com/sitestock/sitestock/internal/shared"
	"github.com/sitestock/sitestock/internal/view"
)

const defaultMaxUpload = 10 << 20

var userMessages = []shared.SafeMessage{
	{Err: ErrOverShipment, Message: "Requested quantity exceeds what remains."},
	{Err: ErrUnknownRow, Message: "The table changed. Reload and try again."},
	{Err: ErrDestinationRequired, Message: "Choose or enter a destination object."},
	{Err: ErrNothingSelected, Message: "Select at least one row."},
	{Err: ErrNegativeQuantity, Message: "Quantities cannot be negative."},
	{Err: ErrNameRequired, Message: "Every row needs a name."},
	{Err: ErrInvalidCategory, Message: "Unknown category."},
	{Err: ErrInvalidDate, Message: "Dates must look like 31.12.2026."},
	{Err: ErrInvalidPrice, Message: "Price cannot be negative."},
	{Err: ErrEmptyExtraction, Message: "No materials were found on the invoice."},
	{Err: ErrNoTable, Message: "Upload an invoice first."},
	{Err: ErrStaleTable, Message: "The table changed in another tab. Reload and try again."},
	{Err: extraction.ErrExtractionTimeout, Message: "Recognition took too long. Please try again."},
	{Err: extraction.ErrUnsupportedImage, Message: "Upload a JPEG or PNG photo."},
	{Err: extraction.ErrExtractionFailed, Message: "The invoice could not be recognised. Try a clearer photo."},
	{Err: objects.ErrInvalidName, Message: "Object names must be 1-100 characters."},
}

// HandlerConfig carries optional handler settings.
type HandlerConfig struct {
	MaxUpload int64
	// Messages adds user-facing texts for errors of other packages, e.g. the ledger.
	Messages []shared.SafeMessage
}

// Handler wires HTTP endpoints for the intake page and its JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	validate  *validator.Validate
	maxUpload int64
	messages  []shared.SafeMessage
}

// NewHandler constructs the staging handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = defaultMaxUpload
	}
	messages := append(append([]shared.SafeMessage(nil), userMessages...), cfg.Messages...)
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		validate:  validator.New(),
		maxUpload: cfg.MaxUpload,
		messages:  messages,
	}
}

// MountRoutes registers staging routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showIntake)
	r.Post("/recognize", h.handleRecognize)
	r.Post("/rows", h.handleRows)
	r.Post("/distribute", h.handleDistribute)
	r.Post("/discard", h.handleDiscard)
	r.Get("/api/staging", h.apiTable)
	r.Get("/api/objects", h.apiObjects)
}

type intakePageData struct {
	Table       *Table
	Objects     []string
	Categories  []catalog.Category
	Errors      map[string]string
	Destination string
	SendQty     string
	MaxUploadMB int64
}

type distributeForm struct {
	Revision       int64  `validate:"gte=0"`
	Destination    string `validate:"required_without=NewDestination,max=100"`
	NewDestination string `validate:"max=100"`
	SendQty        string `validate:"omitempty,numeric"`

	sendQuantity decimal.NullDecimal
}

func (h *Handler) showIntake(w http.ResponseWriter, r *http.Request) {
	h.renderIntake(w, r, map[string]string{}, distributeForm{}, http.StatusOK)
}

func (h *Handler) handleRecognize(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	image, problem := h.readUpload(r)
	if problem != "" {
		h.renderIntake(w, r, map[string]string{"invoice": problem}, distributeForm{}, http.StatusBadRequest)
		return
	}
	table, err := h.service.Recognize(r.Context(), shared.SessionID(r.Context()), image)
	if err != nil {
		h.logger.Error("recognize invoice failed", slog.Any("error", err))
		h.flash(sess, "error", h.message(err))
	} else {
		h.flash(sess, "success", fmt.Sprintf("Recognised %d rows.", len(table.Rows)))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleRows(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	sessionID := shared.SessionID(ctx)

	revision, errs := parseRevision(r)
	var table Table
	var err error
	switch action := r.PostFormValue("action"); action {
	case "add":
		item, addErrs := parseNewRow(r)
		for k, v := range addErrs {
			errs[k] = v
		}
		if len(errs) > 0 {
			break
		}
		table, err = h.service.AddRow(ctx, sessionID, revision, item)
	case "save", "duplicate", "remove":
		edits, selected, editErrs := parseGrid(r)
		for k, v := range editErrs {
			errs[k] = v
		}
		if len(errs) > 0 {
			break
		}
		table, err = h.service.Edit(ctx, sessionID, revision, edits)
		if err != nil || action == "save" {
			break
		}
		if len(selected) == 0 {
			err = ErrNothingSelected
			break
		}
		if action == "duplicate" {
			table, err = h.service.Duplicate(ctx, sessionID, table.Revision, selected)
		} else {
			table, err = h.service.Remove(ctx, sessionID, table.Revision, selected)
		}
	default:
		errs["general"] = "Unknown action."
	}
	if len(errs) > 0 {
		h.renderIntake(w, r, errs, distributeForm{}, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("update staging rows failed", slog.Any("error", err))
		h.flash(sess, "error", h.message(err))
	} else {
		h.logger.Info("staging rows updated", slog.Int("rows", len(table.Rows)), slog.Int64("revision", table.Revision))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	sessionID := shared.SessionID(ctx)

	form, errs := h.parseDistributeForm(r)
	edits, _, editErrs := parseGrid(r)
	for k, v := range editErrs {
		errs[k] = v
	}
	if len(errs) > 0 {
		h.renderIntake(w, r, errs, form, http.StatusBadRequest)
		return
	}

	revision := form.Revision
	if len(edits) > 0 {
		table, err := h.service.Edit(ctx, sessionID, revision, edits)
		if err != nil {
			h.flash(sess, "error", h.message(err))
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		revision = table.Revision
	}

	in := DistributeInput{SessionID: sessionID, Revision: revision, Destination: form.Destination}
	if form.NewDestination != "" {
		in.Destination = form.NewDestination
	}
	in.SendQuantity = form.sendQuantity
	res, err := h.service.Distribute(ctx, in)
	switch {
	case err != nil:
		h.logger.Error("distribute failed", slog.Any("error", err))
		h.flash(sess, "error", h.distributeMessage(err))
	case len(res.Shipments) == 0:
		h.flash(sess, "info", "Nothing to send: the quantity was zero.")
	default:
		h.flash(sess, "success", fmt.Sprintf("Sent %d rows to %s.", len(res.Shipments), res.Object))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.Discard(r.Context(), shared.SessionID(r.Context())); err != nil {
		h.logger.Error("discard table failed", slog.Any("error", err))
		h.flash(sess, "error", h.message(err))
	} else {
		h.flash(sess, "info", "The table was cleared.")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) apiTable(w http.ResponseWriter, r *http.Request) {
	table, err := h.service.Table(r.Context(), shared.SessionID(r.Context()))
	if errors.Is(err, ErrNoTable) {
		httpx.Problem(w, http.StatusNotFound, "No Staging Table", h.message(err))
		return
	}
	if err != nil {
		h.logger.Error("load staging table failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, table)
}

func (h *Handler) apiObjects(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"objects": h.service.Objects(r.Context())})
}

func (h *Handler) renderIntake(w http.ResponseWriter, r *http.Request, errs map[string]string, form distributeForm, status int) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	csrfToken, _ := h.csrf.EnsureToken(ctx, sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	data := intakePageData{
		Objects:     h.service.Objects(ctx),
		Categories:  catalog.Categories,
		Errors:      errs,
		Destination: form.Destination,
		SendQty:     form.SendQty,
		MaxUploadMB: h.maxUpload >> 20,
	}
	table, err := h.service.Table(ctx, shared.SessionID(ctx))
	switch {
	case err == nil:
		data.Table = &table
	case !errors.Is(err, ErrNoTable):
		h.logger.Error("load staging table failed", slog.Any("error", err))
		errs["general"] = h.message(err)
	}
	viewData := view.TemplateData{Title: "Invoice intake", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/intake.html", viewData); err != nil {
		h.logger.Error("render intake", slog.Any("error", err))
	}
}

// readUpload returns the invoice bytes or a message for the form.
func (h *Handler) readUpload(r *http.Request) ([]byte, string) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, "The upload could not be read."
	}
	file, _, err := r.FormFile("invoice")
	if err != nil {
		return nil, "Choose an invoice photo."
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return nil, "The upload could not be read."
	}
	if int64(len(data)) > h.maxUpload {
		return nil, fmt.Sprintf("The photo is larger than %d MB.", h.maxUpload>>20)
	}
	if len(data) == 0 {
		return nil, "The uploaded file is empty."
	}
	return data, ""
}

func (h *Handler) parseDistributeForm(r *http.Request) (distributeForm, map[string]string) {
	errs := make(map[string]string)
	form := distributeForm{
		Destination:    strings.TrimSpace(r.PostFormValue("destination")),
		NewDestination: strings.TrimSpace(r.PostFormValue("new_destination")),
		SendQty:        normalizeNumber(r.PostFormValue("send_qty")),
	}
	revision, revErrs := parseRevision(r)
	form.Revision = revision
	for k, v := range revErrs {
		errs[k] = v
	}
	if err := h.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Field() {
				case "Destination":
					errs["destination"] = "Choose or enter a destination object."
				case "NewDestination":
					errs["new_destination"] = "Object names must be 1-100 characters."
				case "SendQty":
					errs["send_qty"] = "Enter a number."
				default:
					errs["general"] = "Invalid form."
				}
			}
		} else {
			errs["general"] = "Invalid form."
		}
	}
	if form.SendQty != "" && errs["send_qty"] == "" {
		qty, err := decimal.NewFromString(form.SendQty)
		if err != nil {
			errs["send_qty"] = "Enter a number."
		} else {
			form.sendQuantity = decimal.NewNullDecimal(qty)
		}
	}
	return form, errs
}

// distributeMessage spells out every over-shipped row.
func (h *Handler) distributeMessage(err error) string {
	var lines []string
	for _, e := range flatten(err) {
		var over *OverShipmentError
		if errors.As(e, &over) {
			lines = append(lines, fmt.Sprintf("%s: requested %s, only %s left.", over.Name, over.Requested.String(), over.Remaining.String()))
		}
	}
	if len(lines) == 0 {
		return h.message(err)
	}
	return strings.Join(lines, " ")
}

func (h *Handler) message(err error) string {
	return shared.UserSafeMessage(err, h.messages...)
}

func (h *Handler) flash(sess *shared.Session, kind, msg string) {
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: msg})
	}
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func parseRevision(r *http.Request) (int64, map[string]string) {
	errs := make(map[string]string)
	raw := strings.TrimSpace(r.PostFormValue("revision"))
	if raw == "" {
		return 0, errs
	}
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rev < 0 {
		errs["general"] = "The form is damaged. Reload the page."
		return 0, errs
	}
	return rev, errs
}

// parseGrid reads the editable grid: row_id lists the rows in order and each field is
// suffixed with the row id.
func parseGrid(r *http.Request) ([]RowEdit, []string, map[string]string) {
	errs := make(map[string]string)
	selected := make(map[string]bool)
	for _, id := range r.PostForm["selected"] {
		selected[id] = true
	}
	var edits []RowEdit
	var selectedIDs []string
	for _, id := range r.PostForm["row_id"] {
		edit := RowEdit{
			ID:           id,
			Name:         r.PostFormValue("name_" + id),
			Unit:         r.PostFormValue("unit_" + id),
			Category:     catalog.Category(r.PostFormValue("category_" + id)),
			DocumentDate: strings.TrimSpace(r.PostFormValue("date_" + id)),
			Selected:     selected[id],
		}
		qty, err := parseDecimal(r.PostFormValue("qty_" + id))
		if err != nil {
			errs["qty_"+id] = "Enter a number."
			continue
		}
		edit.Quantity = qty
		if strings.TrimSpace(edit.Name) == "" {
			errs["name_"+id] = "Name is required."
		}
		if edit.Quantity.IsNegative() {
			errs["qty_"+id] = "Quantity cannot be negative."
		}
		if !edit.Category.Valid() {
			errs["category_"+id] = "Choose a category."
		}
		if !ValidDocumentDate(edit.DocumentDate) {
			errs["date_"+id] = "Use DD.MM.YYYY."
		}
		if edit.Selected {
			selectedIDs = append(selectedIDs, id)
		}
		edits = append(edits, edit)
	}
	return edits, selectedIDs, errs
}

func parseNewRow(r *http.Request) (LineItem, map[string]string) {
	errs := make(map[string]string)
	item := LineItem{
		Name:         strings.TrimSpace(r.PostFormValue("new_name")),
		Unit:         r.PostFormValue("new_unit"),
		Category:     catalog.Category(r.PostFormValue("new_category")),
		DocumentDate: strings.TrimSpace(r.PostFormValue("new_date")),
	}
	if item.Name == "" {
		errs["new_name"] = "Name is required."
	}
	qty, err := parseDecimal(r.PostFormValue("new_qty"))
	if err != nil || !qty.IsPositive() {
		errs["new_qty"] = "Enter a positive number."
	}
	item.Quantity = qty
	price, err := parseDecimal(r.PostFormValue("new_price"))
	if err != nil || price.IsNegative() {
		errs["new_price"] = "Enter a price."
	}
	item.UnitPrice = price
	if !item.Category.Valid() {
		errs["new_category"] = "Choose a category."
	}
	if !ValidDocumentDate(item.DocumentDate) {
		errs["new_date"] = "Use DD.MM.YYYY."
	}
	return item, errs
}

// normalizeNumber accepts a decimal comma and embedded spaces.
func normalizeNumber(raw string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	return strings.ReplaceAll(raw, ",", ".")
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(normalizeNumber(raw))
}
