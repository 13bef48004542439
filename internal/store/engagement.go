package store

import (
	"context"
	"database/sql"
	"fmt"
)

const reviewColumns = `id, product_id, user_id, author_name, rating, title, body, status, created_at`

func scanReviews(rows *sql.Rows) ([]Review, error) {
	defer rows.Close()
	items := make([]Review, 0)
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.UserID, &r.AuthorName, &r.Rating, &r.Title, &r.Body, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

// InsertReview stores a review. A second review by the same user for the same product yields ErrDuplicate.
func (s *PostgresStore) InsertReview(ctx context.Context, r Review) error {
	status := r.Status
	if status == "" {
		status = ReviewPublished
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, product_id, user_id, author_name, rating, title, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ProductID, r.UserID, r.AuthorName, r.Rating, r.Title, r.Body, status)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (Review, error) {
	var r Review
	err := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=$1`, id).
		Scan(&r.ID, &r.ProductID, &r.UserID, &r.AuthorName, &r.Rating, &r.Title, &r.Body, &r.Status, &r.CreatedAt)
	if err != nil {
		return Review{}, err
	}
	return r, nil
}

// ListProductReviews returns a product's published reviews, newest first.
func (s *PostgresStore) ListProductReviews(ctx context.Context, productID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE product_id=$1 AND status='published'
		ORDER BY created_at DESC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list product reviews: %w", err)
	}
	return scanReviews(rows)
}

// ListReviews is the moderation listing. An empty status lists every review.
func (s *PostgresStore) ListReviews(ctx context.Context, status string, limit, offset int) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return scanReviews(rows)
}

func (s *PostgresStore) SetReviewStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reviews SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	return requireRow(res)
}

// RecomputeProductRating refreshes a product's rating and review count from its published reviews.
func (s *PostgresStore) RecomputeProductRating(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE products SET
			rating = COALESCE((SELECT ROUND(AVG(rating)::numeric, 2) FROM reviews WHERE product_id=$1 AND status='published'), 0),
			review_count = (SELECT COUNT(*) FROM reviews WHERE product_id=$1 AND status='published'),
			updated_at = NOW()
		WHERE id=$1
	`, productID)
	if err != nil {
		return fmt.Errorf("recompute product rating: %w", err)
	}
	return nil
}

// AddWishlistItem is idempotent.
func (s *PostgresStore) AddWishlistItem(ctx context.Context, userID, productID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wishlist_items (user_id, product_id) VALUES ($1, $2)
		ON CONFLICT (user_id, product_id) DO NOTHING
	`, userID, productID)
	if err != nil {
		return fmt.Errorf("add wishlist item: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveWishlistItem(ctx context.Context, userID, productID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wishlist_items WHERE user_id=$1 AND product_id=$2`, userID, productID)
	if err != nil {
		return fmt.Errorf("remove wishlist item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWishlist(ctx context.Context, userID string) ([]WishlistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, added_at FROM wishlist_items
		WHERE user_id=$1
		ORDER BY added_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	items := make([]WishlistItem, 0)
	for rows.Next() {
		item := WishlistItem{UserID: userID}
		if err := rows.Scan(&item.ProductID, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wishlist: %w", err)
	}
	return items, nil
}

// UpsertSubscriber subscribes an email address, reactivating it when it was
// unsubscribed. created reports whether the address is new.
func (s *PostgresStore) UpsertSubscriber(ctx context.Context, sub NewsletterSubscriber) (NewsletterSubscriber, bool, error) {
	var (
		out            NewsletterSubscriber
		unsubscribedAt sql.NullTime
		created        bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO newsletter_subscribers (id, email, source, unsubscribe_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET unsubscribed_at = NULL
		RETURNING id, email, source, unsubscribe_token, subscribed_at, unsubscribed_at, (xmax = 0)
	`, sub.ID, sub.Email, sub.Source, sub.UnsubscribeToken).Scan(
		&out.ID, &out.Email, &out.Source, &out.UnsubscribeToken, &out.SubscribedAt, &unsubscribedAt, &created)
	if err != nil {
		return NewsletterSubscriber{}, false, fmt.Errorf("upsert subscriber: %w", err)
	}
	if unsubscribedAt.Valid {
		t := unsubscribedAt.Time
		out.UnsubscribedAt = &t
	}
	return out, created, nil
}

func (s *PostgresStore) UnsubscribeByToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers SET unsubscribed_at = COALESCE(unsubscribed_at, NOW())
		WHERE unsubscribe_token=$1
	`, token)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, activeOnly bool) ([]NewsletterSubscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, source, unsubscribe_token, subscribed_at, unsubscribed_at
		FROM newsletter_subscribers
		WHERE NOT $1 OR unsubscribed_at IS NULL
		ORDER BY subscribed_at DESC
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	items := make([]NewsletterSubscriber, 0)
	for rows.Next() {
		var (
			item           NewsletterSubscriber
			unsubscribedAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.Email, &item.Source, &item.UnsubscribeToken, &item.SubscribedAt, &unsubscribedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		if unsubscribedAt.Valid {
			t := unsubscribedAt.Time
			item.UnsubscribedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return items, nil
}
