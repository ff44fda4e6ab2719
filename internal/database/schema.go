package database

import (
	"context"
	"database/sql"
)

// statements creates the booking engine's tables when they do not exist.
// The CHECK constraints duplicate the ledger invariants enforced in the
// repository layer so that even a buggy writer cannot persist a negative
// bucket or a sum mismatch.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS event_availability (
		id                 BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		event_id           BIGINT UNSIGNED NOT NULL UNIQUE,
		total_capacity     INT NOT NULL,
		available_capacity INT NOT NULL,
		reserved_capacity  INT NOT NULL DEFAULT 0,
		confirmed_capacity INT NOT NULL DEFAULT 0,
		price_cents        BIGINT NOT NULL DEFAULT 0,
		version            INT UNSIGNED NOT NULL DEFAULT 1,
		last_updated       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT check_total_capacity_positive CHECK (total_capacity >= 0),
		CONSTRAINT check_available_capacity_positive CHECK (available_capacity >= 0),
		CONSTRAINT check_reserved_capacity_positive CHECK (reserved_capacity >= 0),
		CONSTRAINT check_confirmed_capacity_positive CHECK (confirmed_capacity >= 0),
		CONSTRAINT check_capacity_consistency CHECK (available_capacity + reserved_capacity + confirmed_capacity = total_capacity),
		CONSTRAINT check_availability_version_positive CHECK (version > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                 BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		user_id            BIGINT UNSIGNED NOT NULL,
		event_id           BIGINT UNSIGNED NOT NULL,
		booking_reference  VARCHAR(50) NOT NULL UNIQUE,
		quantity           INT NOT NULL,
		total_amount_cents BIGINT NOT NULL,
		currency           CHAR(3) NOT NULL DEFAULT 'USD',
		status             ENUM('pending','confirmed','cancelled','expired','refunded','completed') NOT NULL DEFAULT 'pending',
		payment_status     ENUM('pending','processing','completed','failed','refunded') NOT NULL DEFAULT 'pending',
		expires_at         DATETIME NULL,
		confirmed_at       DATETIME NULL,
		cancelled_at       DATETIME NULL,
		created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		version            INT UNSIGNED NOT NULL DEFAULT 1,
		notes              TEXT NULL,
		CONSTRAINT check_quantity_positive CHECK (quantity > 0),
		CONSTRAINT check_total_amount_positive CHECK (total_amount_cents >= 0),
		CONSTRAINT check_version_positive CHECK (version > 0),
		INDEX idx_booking_user_event (user_id, event_id),
		INDEX idx_booking_status_created (status, created_at),
		INDEX idx_booking_expires (expires_at)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_items (
		id                   BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		booking_id           BIGINT UNSIGNED NOT NULL,
		price_per_item_cents BIGINT NOT NULL,
		quantity             INT NOT NULL,
		total_price_cents    BIGINT NOT NULL,
		created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT check_item_quantity_positive CHECK (quantity > 0),
		CONSTRAINT check_item_price_positive CHECK (price_per_item_cents >= 0),
		CONSTRAINT fk_item_booking FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS booking_audit_logs (
		id         BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		booking_id BIGINT UNSIGNED NOT NULL,
		action     VARCHAR(50) NOT NULL,
		field_name VARCHAR(100) NULL,
		old_value  TEXT NULL,
		new_value  TEXT NULL,
		changed_by BIGINT UNSIGNED NULL,
		changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		reason     TEXT NULL,
		CONSTRAINT fk_audit_booking FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE,
		INDEX idx_audit_booking (booking_id),
		INDEX idx_audit_action_date (action, changed_at)
	)`,
}

// Migrate applies the schema statements in order. Each statement is
// idempotent, so Migrate can run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
