package kbd

import evdev "github.com/holoplot/go-evdev"

// Identity is the vendor/product/version/name tuple used by IsMe to
// recognize a physical keyboard across a replug, where the /dev/input/
// eventN path is not stable.
type Identity struct {
	Vendor  uint16
	Product uint16
	Version uint16
	Name    string
}

// identify opens path transiently through go-evdev purely to read its
// identity, then closes it.
func identify(path string) (Identity, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return Identity{}, err
	}
	defer dev.Close()

	name, _ := dev.Name()
	id, err := dev.InputID()
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Vendor:  id.Vendor,
		Product: id.Product,
		Version: id.Version,
		Name:    name,
	}, nil
}
