package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"jewelry/api/internal/authpw"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/email"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
}

type SignUpResult struct {
	UserID            string
	VerificationToken string
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error) {
	if err := validateInput(input); err != nil {
		return SignUpResult{}, err
	}
	resp, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return SignUpResult{}, mapAuthError(err)
	}

	if s.SMTPConfigured() {
		link := s.cfg.SiteURL + "/verify-email?token=" + url.QueryEscape(resp.VerificationToken)
		if err := s.mailer.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			s.logger.Warn("send verification email failed", zap.String("user_id", resp.User.ID), zap.Error(err))
		}
	}
	return SignUpResult{UserID: resp.User.ID, VerificationToken: resp.VerificationToken}, nil
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn authenticates the user and moves the guest cart, when there is one,
// into the user's cart.
func (s *Service) SignIn(ctx context.Context, input SignInInput, guestCartID string) (Session, error) {
	resp, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: input.Email, Password: input.Password})
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}

	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return Session{}, err
	}
	if cart.IsGuestID(guestCartID) {
		if err := s.carts.Merge(ctx, guestCartID, session.CartID()); err != nil {
			s.logger.Warn("merge guest cart failed", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	return session, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return mapAuthError(s.auth.VerifyEmail(ctx, token))
}

// RequestPasswordReset returns the reset token so development builds without
// SMTP can surface it. Unknown emails yield an empty token.
func (s *Service) RequestPasswordReset(ctx context.Context, address string) (string, error) {
	token, user, err := s.auth.RequestPasswordReset(ctx, address)
	if err != nil {
		return "", err
	}
	if token != "" && s.SMTPConfigured() {
		link := s.cfg.SiteURL + "/reset-password?token=" + url.QueryEscape(token)
		if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
			s.logger.Warn("send password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return mapAuthError(s.auth.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword}))
}

func mapAuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authpw.ErrMissingFields):
		return invalid(err.Error())
	case errors.Is(err, authpw.ErrWeakPassword):
		return domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", err.Error(), nil)
	default:
		return err
	}
}

type Profile struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	DisplayName     string `json:"displayName"`
	Role            string `json:"role"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

func (s *Service) Profile(ctx context.Context, session Session) (Profile, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:              user.ID,
		Email:           user.Email,
		DisplayName:     user.DisplayName,
		Role:            user.Role,
		IsEmailVerified: user.IsEmailVerified,
	}, nil
}

type ProfileInput struct {
	DisplayName string `json:"displayName" validate:"required,max=80"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileInput) (Profile, error) {
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validateInput(input); err != nil {
		return Profile{}, err
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID, input.DisplayName); err != nil {
		return Profile{}, err
	}
	return s.Profile(ctx, session)
}

// Wishlist

type WishlistEntry struct {
	Product ProductView `json:"product"`
	AddedAt string      `json:"addedAt"`
}

// Wishlist returns the user's saved products. Products that no longer exist
// are skipped.
func (s *Service) Wishlist(ctx context.Context, session Session) ([]WishlistEntry, error) {
	items, err := s.store.ListWishlist(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]WishlistEntry, 0, len(items))
	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			continue
		}
		out = append(out, WishlistEntry{Product: toProductView(p), AddedAt: item.AddedAt.UTC().Format(timeLayout)})
	}
	return out, nil
}

func (s *Service) AddToWishlist(ctx context.Context, session Session, productID string) error {
	if _, err := s.activeProduct(ctx, productID); err != nil {
		return err
	}
	return s.store.AddWishlistItem(ctx, session.UserID, productID)
}

func (s *Service) RemoveFromWishlist(ctx context.Context, session Session, productID string) error {
	return s.store.RemoveWishlistItem(ctx, session.UserID, productID)
}

// Reviews

type ReviewInput struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Title  string `json:"title" validate:"max=120"`
	Body   string `json:"body" validate:"required,min=10,max=2000"`
}

type ReviewView struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	AuthorName string `json:"authorName"`
	Rating     int    `json:"rating"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

func toReviewView(r store.Review) ReviewView {
	return ReviewView{
		ID:         r.ID,
		ProductID:  r.ProductID,
		AuthorName: r.AuthorName,
		Rating:     r.Rating,
		Title:      r.Title,
		Body:       r.Body,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt.UTC().Format(timeLayout),
	}
}

type ProductReviews struct {
	Reviews []ReviewView          `json:"reviews"`
	Summary catalog.ReviewSummary `json:"summary"`
}

func (s *Service) ProductReviews(ctx context.Context, slug string) (ProductReviews, error) {
	product, err := s.productBySlug(ctx, slug)
	if err != nil {
		return ProductReviews{}, err
	}
	reviews, err := s.reviewsFor(ctx, product.ID)
	if err != nil {
		return ProductReviews{}, err
	}
	views := make([]ReviewView, len(reviews))
	for i, r := range reviews {
		views[i] = toReviewView(r)
	}
	return ProductReviews{Reviews: views, Summary: catalog.SummarizeReviews(reviews)}, nil
}

// reviewsFor is empty when the catalog runs from memory.
func (s *Service) reviewsFor(ctx context.Context, productID string) ([]store.Review, error) {
	if s.catalog.UsingFallback() {
		return []store.Review{}, nil
	}
	return s.store.ListProductReviews(ctx, productID)
}

func (s *Service) CreateReview(ctx context.Context, session Session, slug string, input ReviewInput) (ReviewView, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)
	if err := validateInput(input); err != nil {
		return ReviewView{}, err
	}
	product, err := s.productBySlug(ctx, slug)
	if err != nil {
		return ReviewView{}, err
	}

	review := store.Review{
		ID:         util.NewID("rev"),
		ProductID:  product.ID,
		UserID:     session.UserID,
		AuthorName: session.UserName,
		Rating:     input.Rating,
		Title:      input.Title,
		Body:       input.Body,
		Status:     store.ReviewPublished,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ReviewView{}, domainError(http.StatusConflict, "REVIEW_EXISTS", "You have already reviewed this product", nil)
		}
		return ReviewView{}, err
	}
	if err := s.store.RecomputeProductRating(ctx, product.ID); err != nil {
		s.logger.Warn("recompute rating failed", zap.String("product_id", product.ID), zap.Error(err))
	}
	s.track("review_submitted", &session, map[string]any{"productId": product.ID, "rating": input.Rating})
	return toReviewView(review), nil
}

// Newsletter

var newsletterSources = map[string]bool{"popup": true, "footer": true, "checkout": true}

type NewsletterInput struct {
	Email  string `json:"email" validate:"required,email,max=254"`
	Source string `json:"source"`
}

// Subscribe is idempotent; only a brand new address gets the welcome email.
func (s *Service) Subscribe(ctx context.Context, input NewsletterInput) (bool, error) {
	input.Email = authpw.NormalizeEmail(input.Email)
	input.Source = strings.ToLower(strings.TrimSpace(input.Source))
	if input.Source == "" {
		input.Source = "footer"
	}
	if err := validateInput(input); err != nil {
		return false, err
	}
	if !newsletterSources[input.Source] {
		return false, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"source": "oneof"})
	}

	sub, created, err := s.store.UpsertSubscriber(ctx, store.NewsletterSubscriber{
		ID:               util.NewID("sub"),
		Email:            input.Email,
		Source:           input.Source,
		UnsubscribeToken: util.NewID(""),
	})
	if err != nil {
		return false, err
	}
	if created {
		s.track("newsletter_subscribed", nil, map[string]any{"source": input.Source})
		if s.SMTPConfigured() {
			data := email.NewsletterData{
				ShopURL:        s.cfg.SiteURL + "/shop",
				UnsubscribeURL: s.cfg.SiteURL + "/api/newsletter/unsubscribe?token=" + url.QueryEscape(sub.UnsubscribeToken),
			}
			if err := s.mailer.SendNewsletterWelcome(sub.Email, data); err != nil {
				s.logger.Warn("send newsletter welcome failed", zap.Error(err))
			}
		}
	}
	return created, nil
}

func (s *Service) Unsubscribe(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalid("token is required")
	}
	if err := s.store.UnsubscribeByToken(ctx, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Subscription not found")
		}
		return err
	}
	return nil
}
