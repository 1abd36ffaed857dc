package credentials

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const KeyPrefix = "key:"

// Credential is the connection material for one host. Secret is either a
// password or a private key reference written as "key:<path>".
type Credential struct {
	Host   string
	User   string
	Secret string
	Port   int
}

func (c Credential) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// KeyPath returns the private key path when Secret is a key reference.
func (c Credential) KeyPath() (string, bool) {
	if !strings.HasPrefix(c.Secret, KeyPrefix) {
		return "", false
	}

	return strings.TrimPrefix(c.Secret, KeyPrefix), true
}

// String omits the secret so credentials are safe to log.
func (c Credential) String() string {
	return fmt.Sprintf("%s@%s", c.User, c.Address())
}
