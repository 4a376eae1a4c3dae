package security

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "lakeloader"

// StoreWarehousePassword saves the warehouse password for an account in
// the system keyring
func StoreWarehousePassword(account, username, password string) error {
	if err := keyring.Set(keyringService, credentialName(account, username), password); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// GetWarehousePassword retrieves the warehouse password for an account
// from the system keyring
func GetWarehousePassword(account, username string) (string, error) {
	password, err := keyring.Get(keyringService, credentialName(account, username))
	if err != nil {
		return "", fmt.Errorf("failed to get from keyring: %w", err)
	}
	return password, nil
}

// DeleteWarehousePassword removes the stored warehouse password
func DeleteWarehousePassword(account, username string) error {
	if err := keyring.Delete(keyringService, credentialName(account, username)); err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

func credentialName(account, username string) string {
	return fmt.Sprintf("warehouse/%s/%s", account, username)
}
