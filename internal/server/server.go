package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

// Catalog mirrors sheet renames, removals and size changes into whatever
// persists the workbook. cell contents already flow through each sheet's
// Storage.
type Catalog interface {
	RenameSheet(ctx context.Context, oldName, newName string) error
	DeleteSheet(ctx context.Context, name string) error
	SaveDimensions(ctx context.Context, sheet string, axis spreadsheet.Axis, overrides map[int]int) error
}

// Server exposes a workbook over HTTP
type Server struct {
	router    *gin.Engine
	book      *spreadsheet.Workbook
	evaluator *spreadsheet.Evaluator
	catalog   Catalog
}

// Option configures a Server
type Option func(*Server)

// WithCatalog persists sheet lifecycle and dimension changes
func WithCatalog(catalog Catalog) Option {
	return func(s *Server) { s.catalog = catalog }
}

// NewServer builds the router. devMode keeps gin's debug output on.
func NewServer(book *spreadsheet.Workbook, devMode bool, opts ...Option) *Server {
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		router:    gin.New(),
		book:      book,
		evaluator: spreadsheet.NewEvaluator(nil, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(gin.Recovery())
	if devMode {
		s.router.Use(gin.Logger())
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/sheets", s.listSheets)
		api.POST("/sheets", s.addSheet)
		api.PATCH("/sheets/:sheet", s.renameSheet)
		api.DELETE("/sheets/:sheet", s.removeSheet)

		api.GET("/sheets/:sheet/cells/:address", s.getCell)
		api.PUT("/sheets/:sheet/cells/:address", s.setCell)
		api.DELETE("/sheets/:sheet/cells/:address", s.removeCell)
		api.GET("/sheets/:sheet/edge/:address", s.findEdge)

		api.POST("/sheets/:sheet/shift", s.shift)
		api.POST("/sheets/:sheet/move", s.move)
		api.PUT("/sheets/:sheet/sizes", s.setSize)
		api.POST("/recalculate", s.recalculate)

		api.POST("/eval", s.eval)
		api.POST("/tokenize", s.tokenize)
		api.POST("/references", s.references)
		api.GET("/functions", s.functions)
	}
}

// Handler returns the router for use with net/http
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts serving on addr
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

type cellResponse struct {
	Sheet   string `json:"sheet"`
	Address string `json:"address"`
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

type changedResponse struct {
	Changed []string `json:"changed"`
}

func changed(refs []spreadsheet.SheetRef) changedResponse {
	out := changedResponse{Changed: make([]string, 0, len(refs))}
	for _, r := range refs {
		out.Changed = append(out.Changed, r.String())
	}
	return out
}

// fail maps application error codes onto HTTP statuses
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch spreadsheet.ErrorCodeOf(err) {
	case spreadsheet.InvalidArgument:
		status = http.StatusBadRequest
	case spreadsheet.NotFound:
		status = http.StatusNotFound
	case spreadsheet.AlreadyExists:
		status = http.StatusConflict
	case spreadsheet.OutOfRange:
		status = http.StatusUnprocessableEntity
	case spreadsheet.FailedPrecondition:
		status = http.StatusPreconditionFailed
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) listSheets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sheets":    s.book.Sheets(),
		"undefined": s.book.UndefinedSheets(),
	})
}

type sheetRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) addSheet(c *gin.Context) {
	var req sheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if _, err := s.book.AddSheet(c.Request.Context(), req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

func (s *Server) renameSheet(c *gin.Context) {
	var req sheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	oldName := s.canonicalName(c.Param("sheet"))
	if err := s.book.RenameSheet(ctx, oldName, req.Name); err != nil {
		fail(c, err)
		return
	}
	if s.catalog != nil {
		if err := s.catalog.RenameSheet(ctx, oldName, req.Name); err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

func (s *Server) removeSheet(c *gin.Context) {
	ctx := c.Request.Context()
	name := s.canonicalName(c.Param("sheet"))
	if err := s.book.RemoveSheet(ctx, name); err != nil {
		fail(c, err)
		return
	}
	if s.catalog != nil {
		if err := s.catalog.DeleteSheet(ctx, name); err != nil {
			fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getCell(c *gin.Context) {
	cell, err := s.book.Get(c.Request.Context(), c.Param("sheet"), c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cellResponse{
		Sheet:   c.Param("sheet"),
		Address: c.Param("address"),
		Value:   cell.Value,
		Formula: cell.Formula,
	})
}

type setCellRequest struct {
	Input string `json:"input"`
}

func (s *Server) setCell(c *gin.Context) {
	var req setCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	refs, err := s.book.Set(c.Request.Context(), c.Param("sheet"), c.Param("address"), req.Input)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changed(refs))
}

func (s *Server) removeCell(c *gin.Context) {
	refs, err := s.book.Remove(c.Request.Context(), c.Param("sheet"), c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changed(refs))
}

var directions = map[string]spreadsheet.Direction{
	"up":    spreadsheet.DirectionUp,
	"down":  spreadsheet.DirectionDown,
	"left":  spreadsheet.DirectionLeft,
	"right": spreadsheet.DirectionRight,
}

func (s *Server) findEdge(c *gin.Context) {
	d, ok := directions[c.Query("direction")]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up, down, left or right"})
		return
	}
	sheet, ok := s.book.Sheet(c.Param("sheet"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sheet not found"})
		return
	}
	ref, err := sheet.FindEdge(c.Param("address"), d)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": ref.String()})
}

type shiftRequest struct {
	Axis  string `json:"axis" binding:"required"`
	Index int    `json:"index"`
	Count int    `json:"count"`
}

func (s *Server) shift(c *gin.Context) {
	var req shiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	axis, err := spreadsheet.ParseAxis(req.Axis)
	if err != nil {
		fail(c, err)
		return
	}
	refs, err := s.book.Shift(c.Request.Context(), c.Param("sheet"), axis, req.Index, req.Count)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.saveDimensions(c.Request.Context(), c.Param("sheet"), axis); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changed(refs))
}

type moveRequest struct {
	Axis  string `json:"axis" binding:"required"`
	Src   int    `json:"src"`
	Count int    `json:"count"`
	Dst   int    `json:"dst"`
}

func (s *Server) move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	axis, err := spreadsheet.ParseAxis(req.Axis)
	if err != nil {
		fail(c, err)
		return
	}
	refs, err := s.book.Move(c.Request.Context(), c.Param("sheet"), axis, req.Src, req.Count, req.Dst)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.saveDimensions(c.Request.Context(), c.Param("sheet"), axis); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changed(refs))
}

type sizeRequest struct {
	Axis  string `json:"axis" binding:"required"`
	Index int    `json:"index"`
	Size  int    `json:"size"`
}

// setSize overrides one row height or column width. a negative size
// restores the default.
func (s *Server) setSize(c *gin.Context) {
	var req sizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	axis, err := spreadsheet.ParseAxis(req.Axis)
	if err != nil {
		fail(c, err)
		return
	}
	sheet, ok := s.book.Sheet(c.Param("sheet"))
	if !ok {
		fail(c, spreadsheet.NewApplicationError(spreadsheet.NotFound, fmt.Sprintf("sheet %q not found", c.Param("sheet"))))
		return
	}
	size, offset, err := sheet.Resize(axis, req.Index, req.Size)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.saveDimensions(c.Request.Context(), sheet.Name(), axis); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": size, "offset": offset})
}

// canonicalName returns the stored spelling of a sheet name, or name
// itself when no such sheet exists
func (s *Server) canonicalName(name string) string {
	if sheet, ok := s.book.Sheet(name); ok {
		return sheet.Name()
	}
	return name
}

func (s *Server) saveDimensions(ctx context.Context, name string, axis spreadsheet.Axis) error {
	if s.catalog == nil {
		return nil
	}
	sheet, ok := s.book.Sheet(name)
	if !ok {
		return nil
	}
	return s.catalog.SaveDimensions(ctx, sheet.Name(), axis, sheet.Dimensions(axis))
}

func (s *Server) recalculate(c *gin.Context) {
	refs, err := s.book.RecalculateAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changed(refs))
}

type formulaRequest struct {
	Formula string `json:"formula" binding:"required"`
}

func bindFormula(c *gin.Context) (string, bool) {
	var req formulaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return "", false
	}
	return req.Formula, true
}

// eval computes a formula with no grid, so references display #REF!
func (s *Server) eval(c *gin.Context) {
	formula, ok := bindFormula(c)
	if !ok {
		return
	}
	_, parseErr := spreadsheet.Parse(formula)
	resp := gin.H{"value": s.evaluator.Evaluate(formula, nil)}
	var appErr *spreadsheet.AppError
	if errors.As(parseErr, &appErr) {
		resp["parseError"] = appErr.Message
	}
	c.JSON(http.StatusOK, resp)
}

type tokenResponse struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	Stop  int    `json:"stop"`
	Text  string `json:"text"`
}

func (s *Server) tokenize(c *gin.Context) {
	formula, ok := bindFormula(c)
	if !ok {
		return
	}
	tokens := spreadsheet.Tokenize(formula)
	out := make([]tokenResponse, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tokenResponse{Type: tok.Type.String(), Start: tok.Start, Stop: tok.Stop, Text: tok.Text})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

func (s *Server) references(c *gin.Context) {
	formula, ok := bindFormula(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"references": spreadsheet.ExtractReferences(formula)})
}

func (s *Server) functions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": spreadsheet.DefaultFunctions().Names()})
}
