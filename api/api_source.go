package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/sourcedrop/sourcedrop-server/api/interceptors"
	apiutil "github.com/sourcedrop/sourcedrop-server/api/util"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/sourcedrop/sourcedrop-server/util"
)

const tor2webWarning = "You appear to be using Tor2Web. This does not provide anonymity."

type SourceApi struct {
	identity       *services.IdentityService
	submission     *services.SubmissionService
	vault          *services.KeyVaultService
	tokens         *interceptors.TokenCodec
	cookieName     string
	secureCookie   bool
	maxUploadBytes int64
	validate       *validator.Validate
}

func NewSourceApi(identity *services.IdentityService, submission *services.SubmissionService, vault *services.KeyVaultService, tokens *interceptors.TokenCodec) *SourceApi {
	return &SourceApi{
		identity:       identity,
		submission:     submission,
		vault:          vault,
		tokens:         tokens,
		cookieName:     global.Conf.Session.CookieName,
		secureCookie:   global.Conf.Scheme == "https",
		maxUploadBytes: global.Conf.Storage.MaxUploadBytes,
		validate:       validator.New(),
	}
}

// writeSession seals the session into the response token and cookie
func (sa *SourceApi) writeSession(c *gin.Context, sess *types.SourceSession) (string, bool) {
	token, err := sa.tokens.Seal(sess)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to create session")
		return "", false
	}
	maxAge := 0
	if sess.ExpiresAt > 0 {
		maxAge = global.Conf.Session.LifetimeMinutes * 60
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sa.cookieName, token, maxAge, "/", "", sa.secureCookie, true)
	return token, true
}

// Generate a new codename
// @Summary Generate a new codename
// @Description Returns a fresh codename held in an anonymous session. Nothing is stored yet.
// @Tags Source
// @Param numberWords body types.InputGenerate false "number of words (7-10)"
// @Success 200 {object} types.OutputCodename
// @Failure 400 {object} api.ApiError "invalid number of words"
// @Accept json
// @Produce json
// @Router /api/v1/generate [post]
func (sa *SourceApi) Generate(c *gin.Context) {
	var input types.InputGenerate
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			ApiErrorf(c, http.StatusBadRequest, "invalid request")
			return
		}
	}
	sess, err := sa.identity.StartNew(input.NumberWords)
	if err != nil {
		ApiServiceError(c, err)
		return
	}
	token, ok := sa.writeSession(c, sess)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.OutputCodename{Codename: sess.Codename, Token: token})
}

// Create the source for the generated codename
// @Summary Create source
// @Description Creates the source record and storage of the codename in the session and logs in
// @Tags Source
// @Success 200 {object} types.OutputSession
// @Failure 400 {object} api.ApiError "no codename generated"
// @Produce json
// @Router /api/v1/create [post]
func (sa *SourceApi) Create(c *gin.Context) {
	sess := interceptors.GetSession(c)
	if sess.Codename == "" {
		ApiErrorf(c, http.StatusBadRequest, "generate a codename first")
		return
	}
	srcCtx, err := sa.identity.Establish(c.Request.Context(), sess)
	if err != nil {
		ApiServiceError(c, err)
		return
	}
	token, ok := sa.writeSession(c, sess)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.OutputSession{DisplayID: srcCtx.DisplayID, Token: token})
}

// Login with an existing codename
// @Summary Login
// @Tags Source
// @Param codename body types.InputLogin true "codename"
// @Success 200 {object} types.OutputSession
// @Failure 401 {object} api.ApiError "not a recognized codename"
// @Accept json
// @Produce json
// @Router /api/v1/login [post]
func (sa *SourceApi) Login(c *gin.Context) {
	var input types.InputLogin
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	if err := sa.validate.Struct(input); err != nil {
		var vErr validator.ValidationErrors
		if errors.As(err, &vErr) {
			ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr))
			return
		}
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	sess, err := sa.identity.Authenticate(c.Request.Context(), input.Codename)
	if err != nil {
		if errors.Is(err, types.ErrUnknownIdentity) {
			ApiErrorf(c, http.StatusUnauthorized, "Sorry, that is not a recognized codename.")
			return
		}
		ApiServiceError(c, err)
		return
	}
	token, ok := sa.writeSession(c, sess)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.OutputSession{Token: token})
}

// Logout
// @Summary Logout
// @Tags Source
// @Success 200 {object} types.OutputSession
// @Produce json
// @Router /api/v1/logout [post]
func (sa *SourceApi) Logout(c *gin.Context) {
	sa.identity.Logout(interceptors.GetSession(c))
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sa.cookieName, "", -1, "/", "", sa.secureCookie, true)
	c.JSON(http.StatusOK, types.OutputSession{})
}

// Lookup replies
// @Security Bearer
// @Summary Lookup replies
// @Description Returns the decrypted replies and whether the source is flagged and has a reply key
// @Tags Source
// @Success 200 {object} types.OutputLookup
// @Failure 401 {object} api.ApiError "not logged in"
// @Produce json
// @Router /api/v1/lookup [get]
func (sa *SourceApi) Lookup(c *gin.Context) {
	srcCtx := interceptors.GetSourceContext(c)
	result, err := sa.submission.Lookup(c.Request.Context(), srcCtx)
	if err != nil {
		ApiServiceError(c, err)
		return
	}
	out := types.OutputLookup{LookupResult: *result}
	if apiutil.IsTor2Web(c) {
		out.Warning = tor2webWarning
	}
	c.JSON(http.StatusOK, out)
}

// Submit a message and/or a document
// @Security Bearer
// @Summary Submit
// @Description multipart form: msg (text), fh (file), sh (detached signature of fh), notclean (strip image metadata)
// @Tags Source
// @Success 200 {object} types.OutputSubmit
// @Failure 400 {object} api.ApiError "empty or too large submission"
// @Accept mpfd
// @Produce json
// @Router /api/v1/submit [post]
func (sa *SourceApi) Submit(c *gin.Context) {
	srcCtx := interceptors.GetSourceContext(c)
	// file and signature plus form overhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*sa.maxUploadBytes+1<<20)

	input := &types.SubmissionInput{Message: c.PostForm("msg")}
	_, stripMetadata := c.GetPostForm("notclean")

	fh, fhErr := c.FormFile("fh")
	if fhErr != nil && !errors.Is(fhErr, http.ErrMissingFile) && !errors.Is(fhErr, http.ErrNotMultipart) {
		ApiErrorf(c, http.StatusBadRequest, "invalid upload")
		return
	}
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	if fh != nil {
		stream, err := fh.Open()
		if err != nil {
			ApiErrorf(c, http.StatusBadRequest, "invalid upload")
			return
		}
		closers = append(closers, stream)
		input.File = &types.FileSubmission{
			Filename:      fh.Filename,
			ContentType:   fh.Header.Get("Content-Type"),
			Stream:        stream,
			StripMetadata: stripMetadata,
		}
		if sh, shErr := c.FormFile("sh"); shErr == nil {
			sig, err := sh.Open()
			if err != nil {
				ApiErrorf(c, http.StatusBadRequest, "invalid upload")
				return
			}
			closers = append(closers, sig)
			input.File.Signature = sig
		}
	}

	names, err := sa.submission.Submit(c.Request.Context(), srcCtx, input)
	if err != nil {
		if len(names) > 0 {
			level.Error(global.Logger).Log("msg", "submission partially stored", "stored", len(names), "err", err)
		}
		ApiServiceError(c, err)
		return
	}

	notifications := []string{}
	if input.Message != "" {
		notifications = append(notifications, "Thanks! We received your message.")
	}
	if input.File != nil {
		filename := util.SanitizeFilename(input.File.Filename)
		if input.File.Signature != nil {
			notifications = append(notifications, fmt.Sprintf("Thanks! We received your credibly leaked document '%s'.", filename))
		} else {
			notifications = append(notifications, fmt.Sprintf("Thanks! We received your document '%s'.", filename))
		}
	}
	c.JSON(http.StatusOK, types.OutputSubmit{Received: len(names), Notifications: notifications})
}

// Delete a reply
// @Security Bearer
// @Summary Delete reply
// @Tags Source
// @Param msgid body types.InputDelete true "reply id"
// @Success 200 {object} map[string]string
// @Failure 400 {object} api.ApiError "invalid reply id"
// @Failure 404 {object} api.ApiError "reply not found"
// @Accept json
// @Produce json
// @Router /api/v1/delete [post]
func (sa *SourceApi) Delete(c *gin.Context) {
	srcCtx := interceptors.GetSourceContext(c)
	var input types.InputDelete
	if err := c.ShouldBindJSON(&input); err != nil || input.MsgID == "" {
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	err := sa.submission.DeleteReply(c.Request.Context(), srcCtx, input.MsgID)
	if err != nil && !errors.Is(err, types.ErrDeletionIncomplete) {
		ApiServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": "Reply deleted."})
}

// Operator public key
// @Summary Download the operator public key
// @Tags Source
// @Success 200 {file} file
// @Produce application/pgp-keys
// @Router /journalist-key [get]
func (sa *SourceApi) JournalistKey(c *gin.Context) {
	armored, name, err := sa.vault.ExportOperatorKey()
	if err != nil {
		ApiServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pgp-keys", armored)
}
