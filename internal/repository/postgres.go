// Package repository содержит реализации хранилища данных сервиса пожертвований.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sahayata/donation-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrCampaignNotFound возвращается, если кампания не найдена.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignNotActive возвращается при попытке пожертвовать в неактивную кампанию.
	ErrCampaignNotActive = errors.New("campaign is not active")
	// ErrCampaignHasDonations возвращается при попытке удалить кампанию с пожертвованиями.
	ErrCampaignHasDonations = errors.New("campaign has donations")
	// ErrDonationNotFound возвращается, если пожертвование не найдено.
	ErrDonationNotFound = errors.New("donation not found")
	// ErrDuplicateTransaction возвращается, если ссылка на транзакцию уже занята другим пожертвованием.
	ErrDuplicateTransaction = errors.New("transaction reference already used")
	// ErrInvariantViolation возвращается, если после мутации сумма подтверждённых
	// пожертвований разошлась с накопленным итогом кампании. В корректном коде недостижимо.
	ErrInvariantViolation = errors.New("raised total diverged from confirmed donations")
)

// CampaignTotal описывает накопленный итог кампании: хранимое значение
// и сумму подтверждённых пожертвований, пересчитанную по записям реестра.
type CampaignTotal struct {
	CampaignID     int64
	StoredPaise    int64
	ConfirmedPaise int64
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_admin, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateCampaign сохраняет новую кампанию и возвращает её с заполненными полями.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO campaigns (owner_id, title, description, category, goal_paise, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, raised_paise, created_at`,
		c.OwnerID, c.Title, c.Description, c.Category, c.GoalPaise, string(c.Status),
	).Scan(&c.ID, &c.RaisedPaise, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return &c, nil
}

// GetCampaignByID возвращает кампанию по идентификатору.
func (r *PostgresRepository) GetCampaignByID(ctx context.Context, id int64) (*model.Campaign, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, description, category, goal_paise, raised_paise, status, created_at
		 FROM campaigns
		 WHERE id = $1`,
		id,
	)

	var c model.Campaign
	var status string
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Category,
		&c.GoalPaise, &c.RaisedPaise, &status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.Status = model.CampaignStatus(status)

	return &c, nil
}

// ListCampaigns возвращает кампании, опционально отфильтрованные по статусу.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	query := `SELECT id, owner_id, title, description, category, goal_paise, raised_paise, status, created_at
	          FROM campaigns`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select campaigns: %w", err)
	}
	defer rows.Close()

	var res []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var st string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Category,
			&c.GoalPaise, &c.RaisedPaise, &st, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Status = model.CampaignStatus(st)
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetCampaignStatus обновляет статус модерации кампании.
func (r *PostgresRepository) SetCampaignStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// DeleteCampaign удаляет кампанию. Кампания с пожертвованиями не удаляется:
// записи реестра не уничтожаются, такую кампанию следует закрывать.
func (r *PostgresRepository) DeleteCampaign(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int64
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM donations WHERE campaign_id = $1`,
		id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count donations: %w", err)
	}
	if count > 0 {
		return ErrCampaignHasDonations
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateDonation сохраняет пожертвование. Кампания блокируется на время транзакции;
// пожертвование со статусом confirmed атомарно увеличивает накопленный итог кампании.
func (r *PostgresRepository) CreateDonation(ctx context.Context, d model.Donation) (*model.Donation, error) {
	var res *model.Donation
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.createDonation(ctx, d)
		return err
	})
	return res, err
}

func (r *PostgresRepository) createDonation(ctx context.Context, d model.Donation) (*model.Donation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку кампании: сериализует учёт по одной кампании.
	var campaignStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`,
		d.CampaignID,
	).Scan(&campaignStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("lock campaign: %w", err)
	}

	if model.CampaignStatus(campaignStatus) != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO donations
		   (id, campaign_id, donor_id, donor_name, donor_email, message, anonymous, amount_paise, status, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		d.ID, d.CampaignID, d.DonorID, d.DonorName, d.DonorEmail, d.Message,
		d.Anonymous, d.AmountPaise, string(d.Status), d.Reference,
	).Scan(&d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, deref(d.Reference))
		}
		return nil, fmt.Errorf("insert donation: %w", err)
	}

	if d.Status == model.DonationStatusConfirmed {
		_, err = tx.Exec(ctx,
			`UPDATE campaigns SET raised_paise = raised_paise + $2 WHERE id = $1`,
			d.CampaignID, d.AmountPaise,
		)
		if err != nil {
			return nil, fmt.Errorf("update raised total: %w", err)
		}
	}

	if err := verifyCampaignTotal(ctx, tx, d.CampaignID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &d, nil
}

// SetDonationStatus переводит пожертвование в новый статус и, при пересечении
// границы confirmed, атомарно корректирует накопленный итог кампании.
// Повторное подтверждение уже подтверждённого пожертвования итог не меняет.
func (r *PostgresRepository) SetDonationStatus(ctx context.Context, id string, status model.DonationStatus, reference *string) (*model.Donation, error) {
	var res *model.Donation
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.setDonationStatus(ctx, id, status, reference)
		return err
	})
	return res, err
}

func (r *PostgresRepository) setDonationStatus(ctx context.Context, id string, status model.DonationStatus, reference *string) (*model.Donation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var campaignID int64
	err = tx.QueryRow(ctx,
		`SELECT campaign_id FROM donations WHERE id = $1`,
		id,
	).Scan(&campaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("get donation campaign: %w", err)
	}

	// Сначала блокировка кампании, затем чтение пожертвования:
	// единый порядок захвата исключает взаимную блокировку.
	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&dummy)
	if err != nil {
		return nil, fmt.Errorf("lock campaign: %w", err)
	}

	var d model.Donation
	var oldStatus string
	err = tx.QueryRow(ctx,
		`SELECT id, campaign_id, donor_id, donor_name, donor_email, message, anonymous,
		        amount_paise, status, reference, created_at
		 FROM donations
		 WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.CampaignID, &d.DonorID, &d.DonorName, &d.DonorEmail, &d.Message,
		&d.Anonymous, &d.AmountPaise, &oldStatus, &d.Reference, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get donation: %w", err)
	}

	wasConfirmed := model.DonationStatus(oldStatus) == model.DonationStatusConfirmed
	willConfirm := status == model.DonationStatusConfirmed

	if reference != nil {
		_, err = tx.Exec(ctx,
			`UPDATE donations SET status = $2, reference = $3 WHERE id = $1`,
			id, string(status), *reference,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE donations SET status = $2 WHERE id = $1`,
			id, string(status),
		)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, deref(reference))
		}
		return nil, fmt.Errorf("update donation: %w", err)
	}

	var delta int64
	switch {
	case willConfirm && !wasConfirmed:
		delta = d.AmountPaise
	case !willConfirm && wasConfirmed:
		delta = -d.AmountPaise
	}

	if delta != 0 {
		_, err = tx.Exec(ctx,
			`UPDATE campaigns SET raised_paise = raised_paise + $2 WHERE id = $1`,
			campaignID, delta,
		)
		if err != nil {
			return nil, fmt.Errorf("update raised total: %w", err)
		}
	}

	if err := verifyCampaignTotal(ctx, tx, campaignID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	d.Status = status
	if reference != nil {
		d.Reference = reference
	}

	return &d, nil
}

// verifyCampaignTotal сверяет хранимый итог кампании с суммой подтверждённых
// пожертвований внутри той же транзакции. Расхождение откатывает мутацию.
func verifyCampaignTotal(ctx context.Context, tx pgx.Tx, campaignID int64) error {
	var stored, confirmed int64
	err := tx.QueryRow(ctx,
		`SELECT c.raised_paise,
		        COALESCE((SELECT SUM(d.amount_paise) FROM donations d
		                  WHERE d.campaign_id = c.id AND d.status = $2), 0)
		 FROM campaigns c
		 WHERE c.id = $1`,
		campaignID, string(model.DonationStatusConfirmed),
	).Scan(&stored, &confirmed)
	if err != nil {
		return fmt.Errorf("verify campaign total: %w", err)
	}

	if stored != confirmed {
		return fmt.Errorf("%w: campaign %d stored %d confirmed %d",
			ErrInvariantViolation, campaignID, stored, confirmed)
	}

	return nil
}

// GetDonationByID возвращает пожертвование по идентификатору.
func (r *PostgresRepository) GetDonationByID(ctx context.Context, id string) (*model.Donation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, campaign_id, donor_id, donor_name, donor_email, message, anonymous,
		        amount_paise, status, reference, created_at
		 FROM donations
		 WHERE id = $1`,
		id,
	)

	d, err := scanDonation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("get donation: %w", err)
	}

	return d, nil
}

// GetCampaignDonations возвращает все пожертвования кампании.
func (r *PostgresRepository) GetCampaignDonations(ctx context.Context, campaignID int64) ([]model.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, campaign_id, donor_id, donor_name, donor_email, message, anonymous,
		        amount_paise, status, reference, created_at
		 FROM donations
		 WHERE campaign_id = $1
		 ORDER BY created_at DESC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("select donations: %w", err)
	}
	defer rows.Close()

	return collectDonations(rows)
}

// GetRecentConfirmedDonations возвращает последние подтверждённые пожертвования кампании.
func (r *PostgresRepository) GetRecentConfirmedDonations(ctx context.Context, campaignID int64, limit int) ([]model.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, campaign_id, donor_id, donor_name, donor_email, message, anonymous,
		        amount_paise, status, reference, created_at
		 FROM donations
		 WHERE campaign_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		campaignID, string(model.DonationStatusConfirmed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent donations: %w", err)
	}
	defer rows.Close()

	return collectDonations(rows)
}

// GetCampaignTotal возвращает накопленный итог кампании в пайсах.
func (r *PostgresRepository) GetCampaignTotal(ctx context.Context, campaignID int64) (int64, error) {
	var raised int64
	err := r.pool.QueryRow(ctx,
		`SELECT raised_paise FROM campaigns WHERE id = $1`,
		campaignID,
	).Scan(&raised)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCampaignNotFound
		}
		return 0, fmt.Errorf("get campaign total: %w", err)
	}
	return raised, nil
}

// IsReferenceUsed сообщает, привязана ли ссылка на транзакцию к какому-либо пожертвованию.
func (r *PostgresRepository) IsReferenceUsed(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM donations WHERE reference = $1)`,
		reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reference: %w", err)
	}
	return exists, nil
}

// ListCampaignTotals возвращает хранимые и пересчитанные итоги всех кампаний.
// Используется фоновой сверкой реестра.
func (r *PostgresRepository) ListCampaignTotals(ctx context.Context) ([]CampaignTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.raised_paise,
		        COALESCE((SELECT SUM(d.amount_paise) FROM donations d
		                  WHERE d.campaign_id = c.id AND d.status = $1), 0)
		 FROM campaigns c
		 ORDER BY c.id`,
		string(model.DonationStatusConfirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("select campaign totals: %w", err)
	}
	defer rows.Close()

	var res []CampaignTotal
	for rows.Next() {
		var ct CampaignTotal
		if err := rows.Scan(&ct.CampaignID, &ct.StoredPaise, &ct.ConfirmedPaise); err != nil {
			return nil, fmt.Errorf("scan campaign total: %w", err)
		}
		res = append(res, ct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanDonation(row pgx.Row) (*model.Donation, error) {
	var d model.Donation
	var status string
	err := row.Scan(&d.ID, &d.CampaignID, &d.DonorID, &d.DonorName, &d.DonorEmail, &d.Message,
		&d.Anonymous, &d.AmountPaise, &status, &d.Reference, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = model.DonationStatus(status)
	return &d, nil
}

func collectDonations(rows pgx.Rows) ([]model.Donation, error) {
	var res []model.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
