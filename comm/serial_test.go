package comm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerialTransportDefaults(t *testing.T) {
	c := (&SerialTransport{}).config("/dev/rfcomm0")
	assert.Equal(t, "/dev/rfcomm0", c.Name)
	assert.Equal(t, 9600, c.Baud)
	assert.Equal(t, 500*time.Millisecond, c.ReadTimeout)

	c = (&SerialTransport{Baud: 115200, ReadTimeout: -time.Second}).config("COM4")
	assert.Equal(t, 115200, c.Baud)
	assert.Equal(t, 500*time.Millisecond, c.ReadTimeout)

	c = (&SerialTransport{ReadTimeout: 100 * time.Millisecond}).config("COM4")
	assert.Equal(t, 100*time.Millisecond, c.ReadTimeout)
}
