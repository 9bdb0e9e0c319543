package rbac

import (
	"github.com/eradah-pmo/webvue-core-sub000/pkg/storage"
)

// Migrations returns the RBAC schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					name VARCHAR(255) PRIMARY KEY,
					scopeable BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					level INT NOT NULL DEFAULT 1,
					color VARCHAR(20) NOT NULL DEFAULT '',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					scope VARCHAR(20) NOT NULL DEFAULT 'global',
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_roles_name ON roles(name);
				CREATE INDEX IF NOT EXISTS idx_roles_active ON roles(active);
			`,
		},
		{
			Version:     3,
			Description: "Create principals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					id BIGSERIAL PRIMARY KEY,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					department_id BIGINT,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_principals_department_id ON principals(department_id);
			`,
		},
		{
			Version:     4,
			Description: "Create principal_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principal_roles (
					id BIGSERIAL PRIMARY KEY,
					principal_id BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE RESTRICT,
					granted_by BIGINT,
					granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(principal_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_principal_roles_principal_id ON principal_roles(principal_id);
				CREATE INDEX IF NOT EXISTS idx_principal_roles_role_id ON principal_roles(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create legacy principal_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principal_permissions (
					principal_id BIGINT NOT NULL,
					permission VARCHAR(255) NOT NULL,
					PRIMARY KEY (principal_id, permission)
				);
			`,
		},
	}
}
