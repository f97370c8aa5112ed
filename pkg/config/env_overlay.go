/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"

	"github.com/carverauto/sandgate/pkg/models"
)

// ApplyEnvOverlay overrides credential and address fields from environment
// variables. Sandbox deployments inject secrets through the environment, so
// env values win over the config file.
func ApplyEnvOverlay(cfg *models.SupervisorConfig) {
	overlayString(&cfg.ListenAddr, "SANDGATE_LISTEN_ADDR")

	overlayString(&cfg.Storage.AccountID, "R2_ACCOUNT_ID")
	overlayString(&cfg.Storage.AccessKeyID, "R2_ACCESS_KEY_ID")
	overlayString(&cfg.Storage.SecretAccessKey, "R2_SECRET_ACCESS_KEY")
	overlayString(&cfg.Storage.Bucket, "R2_BUCKET")
	overlayString(&cfg.Storage.MountPath, "R2_MOUNT_PATH")

	overlayString(&cfg.Auth.SharedToken, "SANDGATE_ADMIN_TOKEN")
	overlayString(&cfg.Auth.JWKSURL, "IDENTITY_JWKS_URL")
	overlayString(&cfg.Auth.Issuer, "IDENTITY_ISSUER")
	overlayString(&cfg.Auth.Audience, "IDENTITY_AUDIENCE")

	overlayString(&cfg.Gateway.Command, "GATEWAY_COMMAND")
	overlayString(&cfg.Gateway.DataDir, "GATEWAY_DATA_DIR")
}

func overlayString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
