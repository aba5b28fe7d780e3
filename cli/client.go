package cli

import (
	"bufio"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
)

func StartClient(socket string) error {
	c, err := net.Dial("unix", socket)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", socket)
	}
	defer c.Close()
	go func() {
		_, _ = io.Copy(os.Stdout, c)
	}()
	reader := bufio.NewReader(os.Stdin)
	for {
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err = c.Write([]byte(input)); err != nil {
			return err
		}
	}
}
