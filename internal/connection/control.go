package connection

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// controlClient speaks the FTP control protocol directly. It is used for
// SITE allocation parameters, which must be issued on the same session as
// the MKD or STOR that allocates the data set.
type controlClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newControlClient(host string, port int, user, password string) (*controlClient, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, ftpTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &controlClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	// Read welcome
	if _, err := c.readResponse(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := c.cmd("USER %s", user); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.cmd("PASS %s", password); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *controlClient) close() {
	c.send("QUIT")
	c.conn.Close()
}

func (c *controlClient) site(params ...string) error {
	if len(params) == 0 {
		return nil
	}
	return c.cmd("SITE %s", strings.Join(params, " "))
}

func (c *controlClient) mkd(name string) error {
	if err := c.cmd("MKD %s", name); err != nil {
		return fmt.Errorf("failed to allocate %s: %w", name, err)
	}
	return nil
}

// stor uploads data over a passive data connection. A nil payload allocates
// an empty sequential data set.
func (c *controlClient) stor(name string, data []byte) error {
	pasvResp, err := c.cmdResp("PASV")
	if err != nil {
		return err
	}

	dataAddr, err := parsePASV(pasvResp)
	if err != nil {
		return err
	}

	dataConn, err := net.DialTimeout("tcp", dataAddr, ftpTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect data channel: %w", err)
	}

	if err := c.send("STOR %s", name); err != nil {
		dataConn.Close()
		return fmt.Errorf("failed to send STOR: %w", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		dataConn.Close()
		return fmt.Errorf("failed to allocate %s: %w", name, err)
	}
	if !strings.HasPrefix(resp, "125") && !strings.HasPrefix(resp, "150") {
		dataConn.Close()
		return fmt.Errorf("STOR failed: %s", resp)
	}

	dataConn.SetWriteDeadline(time.Now().Add(ftpTimeout * 2))
	if _, err := io.Copy(dataConn, bytes.NewReader(data)); err != nil {
		dataConn.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	dataConn.Close()

	if _, err := c.readResponse(); err != nil {
		return fmt.Errorf("failed to allocate %s: %w", name, err)
	}
	return nil
}

func (c *controlClient) cmd(format string, args ...interface{}) error {
	_, err := c.cmdResp(format, args...)
	return err
}

func (c *controlClient) cmdResp(format string, args ...interface{}) (string, error) {
	if err := c.send(format, args...); err != nil {
		return "", err
	}
	return c.readResponse()
}

func (c *controlClient) send(format string, args ...interface{}) error {
	cmd := fmt.Sprintf(format, args...)
	c.conn.SetWriteDeadline(time.Now().Add(ftpTimeout))
	_, err := fmt.Fprintf(c.conn, "%s\r\n", cmd)
	return err
}

func (c *controlClient) readResponse() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(ftpTimeout))
	var resp strings.Builder
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		resp.WriteString(line)
		// Single line response or last line of multi-line
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	result := strings.TrimSpace(resp.String())
	// 4xx and 5xx are failures
	if len(result) > 0 && (result[0] == '4' || result[0] == '5') {
		return result, fmt.Errorf("ftp error: %s", result)
	}
	return result, nil
}

func parsePASV(resp string) (string, error) {
	// Parse: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	start := strings.Index(resp, "(")
	end := strings.Index(resp, ")")
	if start == -1 || end == -1 {
		return "", fmt.Errorf("invalid PASV response: %s", resp)
	}

	parts := strings.Split(resp[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid PASV response: %s", resp)
	}

	host := strings.Join(parts[:4], ".")
	p1, err := strconv.Atoi(strings.TrimSpace(parts[4]))
	if err != nil {
		return "", fmt.Errorf("invalid PASV port: %s", resp)
	}
	p2, err := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err != nil {
		return "", fmt.Errorf("invalid PASV port: %s", resp)
	}
	port := p1*256 + p2

	return fmt.Sprintf("%s:%d", host, port), nil
}
