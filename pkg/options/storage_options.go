package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StorageOptions)(nil)

// StorageOptions locates the controller's persistent volume.
type StorageOptions struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// NewStorageOptions creates a new StorageOptions with default values.
func NewStorageOptions() *StorageOptions {
	return &StorageOptions{
		Dir: "/var/lib/ledserver",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *StorageOptions) Validate() []error {
	if o == nil {
		return nil
	}
	if o.Dir == "" {
		return []error{errors.New("--storage.dir is required")}
	}
	return nil
}

// AddFlags adds flags for StorageOptions to the specified FlagSet.
func (o *StorageOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "storage.dir", o.Dir, "Directory of the persistent storage volume.")
}
