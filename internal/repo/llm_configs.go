package repo

import (
	"context"
	"database/sql"

	"flowgen/internal/domain"
)

const llmConfigColumns = `id,name,provider,COALESCE(api_key,''),COALESCE(api_url,''),model_name,temperature,max_tokens,is_active,is_default,created_at`

func scanLLMConfig(row rowScanner) (domain.LLMConfig, error) {
	var c domain.LLMConfig
	err := row.Scan(&c.ID, &c.Name, &c.Provider, &c.APIKey, &c.APIURL, &c.ModelName, &c.Temperature, &c.MaxTokens,
		&c.IsActive, &c.IsDefault, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// InsertLLMConfigTx stores a configuration. A default configuration clears the default
// flag of all others, an active one their active flag.
func (r Repo) InsertLLMConfigTx(ctx context.Context, tx *sql.Tx, c domain.LLMConfig) (int64, error) {
	if c.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE llm_configs SET is_default=0 WHERE is_default=1`); err != nil {
			return 0, err
		}
	}
	if c.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE llm_configs SET is_active=0 WHERE is_active=1`); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO llm_configs(name,provider,api_key,api_url,model_name,temperature,max_tokens,is_active,is_default,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.Name, c.Provider, nullable(c.APIKey), nullable(c.APIURL), c.ModelName, c.Temperature, c.MaxTokens,
		c.IsActive, c.IsDefault, c.CreatedAt, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetLLMConfig(ctx context.Context, id int64) (domain.LLMConfig, error) {
	return getLLMConfig(ctx, r.DB, id)
}

func (r Repo) GetLLMConfigTx(ctx context.Context, tx *sql.Tx, id int64) (domain.LLMConfig, error) {
	return getLLMConfig(ctx, tx, id)
}

func getLLMConfig(ctx context.Context, q querier, id int64) (domain.LLMConfig, error) {
	return scanLLMConfig(q.QueryRowContext(ctx, `SELECT `+llmConfigColumns+` FROM llm_configs WHERE id=?`, id))
}

// ListLLMConfigs returns every configuration in creation order.
func (r Repo) ListLLMConfigs(ctx context.Context) ([]domain.LLMConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+llmConfigColumns+` FROM llm_configs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LLMConfig{}
	for rows.Next() {
		c, err := scanLLMConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ActiveLLMConfig returns the active configuration.
func (r Repo) ActiveLLMConfig(ctx context.Context) (domain.LLMConfig, error) {
	return scanLLMConfig(r.DB.QueryRowContext(ctx, `SELECT `+llmConfigColumns+` FROM llm_configs WHERE is_active=1 ORDER BY id LIMIT 1`))
}

// ActivateLLMConfigTx deactivates every configuration and activates id.
func (r Repo) ActivateLLMConfigTx(ctx context.Context, tx *sql.Tx, id int64, updatedAt string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE llm_configs SET is_active=0 WHERE is_active=1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE llm_configs SET is_active=1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteLLMConfig(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM llm_configs WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
