// Package memory is an in-process implementation of the firebase.Auth SDK
// boundary, for development and tests.
//
// Passwords are hashed with bcrypt. ID tokens are HS256 JWTs signed with a
// per-instance key. Federated credentials (Google, Apple) are trusted after
// their claims are read; their signatures are not checked.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/panyam/authkit/apple"
	"github.com/panyam/authkit/firebase"
	"golang.org/x/crypto/bcrypt"
)

// Expiry of out-of-band codes
const (
	CodeExpiryEmailVerification = 24 * time.Hour
	CodeExpiryPasswordReset     = 1 * time.Hour
	CodeExpirySignInLink        = 1 * time.Hour
)

// IDTokenLifetime is how long issued ID tokens are valid.
const IDTokenLifetime = time.Hour

const DefaultActionURL = "https://authkit.local/__/auth/action"

type codeKind string

const (
	codeVerifyEmail   codeKind = "verifyEmail"
	codeResetPassword codeKind = "resetPassword"
	codeSignIn        codeKind = "signIn"
)

type oobCode struct {
	kind      codeKind
	email     string
	expiresAt time.Time
}

type account struct {
	rec          firebase.UserRecord
	passwordHash []byte
}

// Auth keeps accounts in memory and tracks one signed-in account.
type Auth struct {
	mu        sync.Mutex
	accounts  map[string]*account
	byEmail   map[string]string
	federated map[string]string
	codes     map[string]oobCode
	revoked   []string
	current   string

	listeners firebase.StateListeners

	mailer     Mailer
	signingKey []byte
	projectID  string
	actionURL  string
	now        func() time.Time
}

var _ firebase.Auth = (*Auth)(nil)

type Option func(*Auth)

func WithMailer(m Mailer) Option {
	return func(a *Auth) {
		a.mailer = m
	}
}

func WithSigningKey(key []byte) Option {
	return func(a *Auth) {
		a.signingKey = key
	}
}

func WithProjectID(id string) Option {
	return func(a *Auth) {
		a.projectID = id
	}
}

// WithActionURL sets the base of emailed action links.
func WithActionURL(u string) Option {
	return func(a *Auth) {
		a.actionURL = u
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		a.now = now
	}
}

func New(opts ...Option) *Auth {
	a := &Auth{
		accounts:  make(map[string]*account),
		byEmail:   make(map[string]string),
		federated: make(map[string]string),
		codes:     make(map[string]oobCode),
		mailer:    &ConsoleMailer{},
		projectID: "authkit-local",
		actionURL: DefaultActionURL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.signingKey) == 0 {
		key, err := generateSecureToken()
		if err != nil {
			panic(err)
		}
		a.signingKey = []byte(key)
	}
	return a
}

// generateSecureToken returns 32 random bytes, hex-encoded.
func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func federatedKey(providerID, subject string) string {
	return providerID + "|" + subject
}

// ---- listeners

func (a *Auth) AddStateDidChangeListener(fn func(*firebase.UserRecord)) func() {
	return a.listeners.Add(fn)
}

func (a *Auth) notify(rec *firebase.UserRecord) {
	a.listeners.Notify(rec)
}

// ---- helpers, callers hold a.mu

func (a *Auth) currentLocked() (*account, error) {
	if a.current == "" {
		return nil, firebase.NewError(firebase.CodeNoCurrentUser, "no user is signed in")
	}
	acc, ok := a.accounts[a.current]
	if !ok {
		a.current = ""
		return nil, firebase.NewError(firebase.CodeNoCurrentUser, "no user is signed in")
	}
	return acc, nil
}

func (a *Auth) createLocked(rec firebase.UserRecord) *account {
	rec.UID = newUID()
	rec.CreatedAt = a.now()
	acc := &account{rec: rec}
	a.accounts[rec.UID] = acc
	if rec.Email != "" {
		a.byEmail[normalizeEmail(rec.Email)] = rec.UID
	}
	return acc
}

// signInLocked makes acc current. It returns the record to broadcast, or nil
// when acc already was the current account.
func (a *Auth) signInLocked(acc *account) *firebase.UserRecord {
	if a.current == acc.rec.UID {
		return nil
	}
	a.current = acc.rec.UID
	return firebase.CopyRecord(&acc.rec)
}

func (a *Auth) result(acc *account, providerID string, isNew bool) *firebase.AuthDataResult {
	return &firebase.AuthDataResult{
		User: firebase.CopyRecord(&acc.rec),
		AdditionalUserInfo: &firebase.AdditionalUserInfo{
			ProviderID: providerID,
			IsNewUser:  isNew,
		},
	}
}

func (a *Auth) issueCodeLocked(kind codeKind, email string, ttl time.Duration) (string, error) {
	code, err := generateSecureToken()
	if err != nil {
		return "", err
	}
	a.codes[code] = oobCode{kind: kind, email: normalizeEmail(email), expiresAt: a.now().Add(ttl)}
	return code, nil
}

func (a *Auth) consumeCodeLocked(kind codeKind, code, email string) (oobCode, error) {
	c, ok := a.codes[code]
	if !ok || c.kind != kind {
		return oobCode{}, firebase.NewError(firebase.CodeInvalidOOBCode, "the action code is invalid")
	}
	delete(a.codes, code)
	if a.now().After(c.expiresAt) {
		return oobCode{}, firebase.NewError(firebase.CodeInvalidOOBCode, "the action code has expired")
	}
	if email != "" && c.email != normalizeEmail(email) {
		return oobCode{}, firebase.NewError(firebase.CodeInvalidOOBCode, "the action code was issued for another email")
	}
	return c, nil
}

func (a *Auth) actionLink(mode codeKind, code, continueURL string) string {
	u, err := url.Parse(a.actionURL)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: "authkit.local", Path: "/__/auth/action"}
	}
	q := u.Query()
	q.Set("mode", string(mode))
	q.Set("oobCode", code)
	if continueURL != "" {
		q.Set("continueUrl", continueURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsSignInWithEmailLink reports whether link is an email sign-in link.
func IsSignInWithEmailLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	q := u.Query()
	return q.Get("mode") == string(codeSignIn) && q.Get("oobCode") != ""
}

func hasProvider(rec *firebase.UserRecord, providerID string) bool {
	for _, p := range rec.ProviderData {
		if p.ProviderID == providerID {
			return true
		}
	}
	return false
}

type federatedIdentity struct {
	providerID string
	subject    string
	email      string
	name       string
}

func identityFromCredential(cred firebase.Credential) (*federatedIdentity, error) {
	var token, rawNonce string
	switch c := cred.(type) {
	case firebase.GoogleCredential:
		token = c.IDToken
	case firebase.OAuthCredential:
		token, rawNonce = c.IDToken, c.RawNonce
	default:
		return nil, firebase.NewError(firebase.CodeOperationNotAllowed, fmt.Sprintf("unsupported credential %T", cred))
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, firebase.NewError(firebase.CodeInvalidIDPResponse, "unable to parse id token")
	}
	if nonce, ok := claims["nonce"].(string); ok && rawNonce != "" && nonce != apple.SHA256(rawNonce) {
		return nil, firebase.NewError(firebase.CodeInvalidIDPResponse, "nonce does not match")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, firebase.NewError(firebase.CodeInvalidIDPResponse, "id token has no subject")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return &federatedIdentity{providerID: cred.ProviderID(), subject: sub, email: email, name: name}, nil
}

// ---- firebase.Auth

func (a *Auth) CurrentUser() *firebase.UserRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, err := a.currentLocked()
	if err != nil {
		return nil
	}
	return firebase.CopyRecord(&acc.rec)
}

func (a *Auth) SignInAnonymously(ctx context.Context) (*firebase.AuthDataResult, error) {
	a.mu.Lock()
	acc := a.createLocked(firebase.UserRecord{IsAnonymous: true})
	changed := a.signInLocked(acc)
	res := a.result(acc, "", true)
	a.mu.Unlock()

	if changed != nil {
		a.notify(changed)
	}
	return res, nil
}

func (a *Auth) SignIn(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	var pwHashCheck func(*account) error
	if c, ok := cred.(firebase.EmailPasswordCredential); ok {
		pwHashCheck = func(acc *account) error {
			if len(acc.passwordHash) == 0 {
				return firebase.NewError(firebase.CodeInvalidPassword, "account has no password")
			}
			if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(c.Password)) != nil {
				return firebase.NewError(firebase.CodeInvalidPassword, "the password is invalid")
			}
			return nil
		}
	}

	a.mu.Lock()
	acc, isNew, err := a.resolveLocked(cred, pwHashCheck, true)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	changed := a.signInLocked(acc)
	res := a.result(acc, cred.ProviderID(), isNew)
	a.mu.Unlock()

	if changed != nil {
		a.notify(changed)
	}
	return res, nil
}

// resolveLocked finds the account cred identifies. With create set, email
// links and federated credentials for unknown identities create an account.
func (a *Auth) resolveLocked(cred firebase.Credential, checkPassword func(*account) error, create bool) (*account, bool, error) {
	switch c := cred.(type) {
	case firebase.EmailPasswordCredential:
		uid, ok := a.byEmail[normalizeEmail(c.Email)]
		if !ok {
			return nil, false, firebase.NewError(firebase.CodeEmailNotFound, "no account for this email")
		}
		acc := a.accounts[uid]
		if err := checkPassword(acc); err != nil {
			return nil, false, err
		}
		return acc, false, nil

	case firebase.EmailLinkCredential:
		if _, err := a.consumeCodeLocked(codeSignIn, firebase.OOBCode(c.Link), c.Email); err != nil {
			return nil, false, err
		}
		if uid, ok := a.byEmail[normalizeEmail(c.Email)]; ok {
			acc := a.accounts[uid]
			acc.rec.EmailVerified = true
			return acc, false, nil
		}
		if !create {
			return nil, false, firebase.NewError(firebase.CodeEmailNotFound, "no account for this email")
		}
		acc := a.createLocked(firebase.UserRecord{
			Email:         c.Email,
			EmailVerified: true,
			ProviderData:  []firebase.ProviderInfo{{ProviderID: firebase.ProviderIDPassword, UID: c.Email, Email: c.Email}},
		})
		return acc, true, nil

	case firebase.GoogleCredential, firebase.OAuthCredential:
		id, err := identityFromCredential(cred)
		if err != nil {
			return nil, false, err
		}
		if uid, ok := a.federated[federatedKey(id.providerID, id.subject)]; ok {
			return a.accounts[uid], false, nil
		}
		if !create {
			return nil, false, firebase.NewError(firebase.CodeUserNotFound, "no account for this credential")
		}
		acc := a.createLocked(firebase.UserRecord{
			Email:         id.email,
			DisplayName:   id.name,
			EmailVerified: id.email != "",
			ProviderData:  []firebase.ProviderInfo{{ProviderID: id.providerID, UID: id.subject, Email: id.email}},
		})
		a.federated[federatedKey(id.providerID, id.subject)] = acc.rec.UID
		return acc, true, nil
	}
	return nil, false, firebase.NewError(firebase.CodeOperationNotAllowed, fmt.Sprintf("unsupported credential %T", cred))
}

func (a *Auth) CreateUser(ctx context.Context, email, password string) (*firebase.AuthDataResult, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	a.mu.Lock()
	if _, exists := a.byEmail[normalizeEmail(email)]; exists {
		a.mu.Unlock()
		return nil, firebase.NewError(firebase.CodeEmailExists, "the email address is already in use")
	}
	acc := a.createLocked(firebase.UserRecord{
		Email:        email,
		ProviderData: []firebase.ProviderInfo{{ProviderID: firebase.ProviderIDPassword, UID: email, Email: email}},
	})
	acc.passwordHash = hash
	changed := a.signInLocked(acc)
	res := a.result(acc, firebase.ProviderIDPassword, true)
	a.mu.Unlock()

	if changed != nil {
		a.notify(changed)
	}
	return res, nil
}

func (a *Auth) SendPasswordReset(ctx context.Context, email string) error {
	a.mu.Lock()
	if _, ok := a.byEmail[normalizeEmail(email)]; !ok {
		a.mu.Unlock()
		return firebase.NewError(firebase.CodeEmailNotFound, "no account for this email")
	}
	code, err := a.issueCodeLocked(codeResetPassword, email, CodeExpiryPasswordReset)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.mailer.SendPasswordResetEmail(email, a.actionLink(codeResetPassword, code, ""))
}

// ConfirmPasswordReset sets a new password using a code from a reset email.
func (a *Auth) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.consumeCodeLocked(codeResetPassword, code, "")
	if err != nil {
		return err
	}
	uid, ok := a.byEmail[c.email]
	if !ok {
		return firebase.NewError(firebase.CodeEmailNotFound, "no account for this email")
	}
	acc := a.accounts[uid]
	acc.passwordHash = hash
	if !hasProvider(&acc.rec, firebase.ProviderIDPassword) {
		acc.rec.ProviderData = append(acc.rec.ProviderData, firebase.ProviderInfo{
			ProviderID: firebase.ProviderIDPassword, UID: acc.rec.Email, Email: acc.rec.Email,
		})
	}
	return nil
}

func (a *Auth) SendSignInLink(ctx context.Context, email string, settings firebase.ActionCodeSettings) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if !settings.HandleCodeInApp {
		return firebase.NewError(firebase.CodeOperationNotAllowed, "email link sign-in requires handleCodeInApp")
	}
	a.mu.Lock()
	code, err := a.issueCodeLocked(codeSignIn, email, CodeExpirySignInLink)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.mailer.SendSignInLinkEmail(email, a.actionLink(codeSignIn, code, settings.URL))
}

func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	was := a.current
	a.current = ""
	a.mu.Unlock()

	if was != "" {
		a.notify(nil)
	}
	return nil
}

func (a *Auth) RevokeToken(ctx context.Context, authorizationCode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.currentLocked(); err != nil {
		return err
	}
	if authorizationCode == "" {
		return firebase.NewError(firebase.CodeInvalidCredential, "missing authorization code")
	}
	a.revoked = append(a.revoked, authorizationCode)
	return nil
}

// RevokedCodes returns the authorization codes passed to RevokeToken.
func (a *Auth) RevokedCodes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.revoked)
}

type idTokenClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

func (a *Auth) issuer() string {
	return "https://securetoken.google.com/" + a.projectID
}

func (a *Auth) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	a.mu.Lock()
	acc, err := a.currentLocked()
	if err != nil {
		a.mu.Unlock()
		return "", err
	}
	now := a.now()
	claims := idTokenClaims{
		Email:         acc.rec.Email,
		EmailVerified: acc.rec.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer(),
			Subject:   acc.rec.UID,
			Audience:  jwt.ClaimStrings{a.projectID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IDTokenLifetime)),
		},
	}
	a.mu.Unlock()

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

// VerifyIDToken checks a token issued by IDToken and returns its subject.
func (a *Auth) VerifyIDToken(token string) (string, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer()),
		jwt.WithAudience(a.projectID),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", firebase.NewError(firebase.CodeTokenExpired, err.Error())
	}
	return claims.Subject, nil
}

func (a *Auth) SendEmailVerification(ctx context.Context) error {
	a.mu.Lock()
	acc, err := a.currentLocked()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	email := acc.rec.Email
	if email == "" {
		a.mu.Unlock()
		return firebase.NewError(firebase.CodeInvalidEmail, "account has no email")
	}
	code, err := a.issueCodeLocked(codeVerifyEmail, email, CodeExpiryEmailVerification)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.mailer.SendVerificationEmail(email, a.actionLink(codeVerifyEmail, code, ""))
}

// ConfirmEmailVerification marks the account's email verified using a code
// from a verification email.
func (a *Auth) ConfirmEmailVerification(ctx context.Context, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.consumeCodeLocked(codeVerifyEmail, code, "")
	if err != nil {
		return err
	}
	uid, ok := a.byEmail[c.email]
	if !ok {
		return firebase.NewError(firebase.CodeEmailNotFound, "no account for this email")
	}
	a.accounts[uid].rec.EmailVerified = true
	return nil
}

func (a *Auth) Link(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	var hash []byte
	if c, ok := cred.(firebase.EmailPasswordCredential); ok {
		if err := validateEmail(c.Email); err != nil {
			return nil, err
		}
		if err := validatePassword(c.Password); err != nil {
			return nil, err
		}
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost); err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	acc, err := a.currentLocked()
	if err != nil {
		return nil, err
	}
	if hasProvider(&acc.rec, cred.ProviderID()) {
		return nil, firebase.NewError(firebase.CodeProviderLinked, "provider is already linked")
	}

	switch c := cred.(type) {
	case firebase.EmailPasswordCredential, firebase.EmailLinkCredential:
		var email string
		if ep, ok := c.(firebase.EmailPasswordCredential); ok {
			email = ep.Email
		} else {
			el := c.(firebase.EmailLinkCredential)
			if _, err := a.consumeCodeLocked(codeSignIn, firebase.OOBCode(el.Link), el.Email); err != nil {
				return nil, err
			}
			email = el.Email
			acc.rec.EmailVerified = true
		}
		if uid, ok := a.byEmail[normalizeEmail(email)]; ok && uid != acc.rec.UID {
			return nil, firebase.NewError(firebase.CodeEmailExists, "the email address is already in use")
		}
		acc.passwordHash = hash
		if acc.rec.Email == "" {
			acc.rec.Email = email
		}
		a.byEmail[normalizeEmail(email)] = acc.rec.UID
		acc.rec.ProviderData = append(acc.rec.ProviderData, firebase.ProviderInfo{ProviderID: firebase.ProviderIDPassword, UID: email, Email: email})

	case firebase.GoogleCredential, firebase.OAuthCredential:
		id, err := identityFromCredential(cred)
		if err != nil {
			return nil, err
		}
		key := federatedKey(id.providerID, id.subject)
		if uid, ok := a.federated[key]; ok && uid != acc.rec.UID {
			return nil, firebase.NewError(firebase.CodeCredentialInUse, "credential is linked to another account")
		}
		a.federated[key] = acc.rec.UID
		if acc.rec.Email == "" && id.email != "" {
			acc.rec.Email = id.email
			if _, taken := a.byEmail[normalizeEmail(id.email)]; !taken {
				a.byEmail[normalizeEmail(id.email)] = acc.rec.UID
			}
		}
		if acc.rec.DisplayName == "" {
			acc.rec.DisplayName = id.name
		}
		acc.rec.ProviderData = append(acc.rec.ProviderData, firebase.ProviderInfo{ProviderID: id.providerID, UID: id.subject, Email: id.email})

	default:
		return nil, firebase.NewError(firebase.CodeOperationNotAllowed, fmt.Sprintf("unsupported credential %T", cred))
	}

	acc.rec.IsAnonymous = false
	return a.result(acc, cred.ProviderID(), false), nil
}

func (a *Auth) Unlink(ctx context.Context, providerID string) (*firebase.UserRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, err := a.currentLocked()
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(acc.rec.ProviderData, func(p firebase.ProviderInfo) bool {
		return p.ProviderID == providerID
	})
	if i < 0 {
		return nil, firebase.NewError(firebase.CodeNoSuchProvider, "provider is not linked: "+providerID)
	}
	removed := acc.rec.ProviderData[i]
	acc.rec.ProviderData = slices.Delete(acc.rec.ProviderData, i, i+1)
	if providerID == firebase.ProviderIDPassword {
		acc.passwordHash = nil
	} else {
		delete(a.federated, federatedKey(providerID, removed.UID))
	}
	return firebase.CopyRecord(&acc.rec), nil
}

// Reauthenticate confirms that cred identifies the current account.
func (a *Auth) Reauthenticate(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	var checkPassword func(*account) error
	if c, ok := cred.(firebase.EmailPasswordCredential); ok {
		checkPassword = func(acc *account) error {
			if len(acc.passwordHash) == 0 || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(c.Password)) != nil {
				return firebase.NewError(firebase.CodeInvalidPassword, "the password is invalid")
			}
			return nil
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cur, err := a.currentLocked()
	if err != nil {
		return nil, err
	}
	acc, _, err := a.resolveLocked(cred, checkPassword, false)
	if err != nil {
		return nil, err
	}
	if acc.rec.UID != cur.rec.UID {
		return nil, firebase.NewError(firebase.CodeUserMismatch, "credential belongs to a different user")
	}
	return a.result(acc, cred.ProviderID(), false), nil
}

func (a *Auth) Delete(ctx context.Context) error {
	a.mu.Lock()
	acc, err := a.currentLocked()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	uid := acc.rec.UID
	delete(a.accounts, uid)
	for email, owner := range a.byEmail {
		if owner == uid {
			delete(a.byEmail, email)
		}
	}
	for key, owner := range a.federated {
		if owner == uid {
			delete(a.federated, key)
		}
	}
	a.current = ""
	a.mu.Unlock()

	a.notify(nil)
	return nil
}

// AccountCount returns the number of stored accounts.
func (a *Auth) AccountCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.accounts)
}
