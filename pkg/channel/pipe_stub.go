//go:build !windows

package channel

import "fmt"

func newPipeChannel(string) (Channel, error) {
	return nil, fmt.Errorf("channel: named pipes are not supported on this platform")
}
