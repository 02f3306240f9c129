package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"SectorSentinel/internal/model"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string { return "i/o" }
func (e timeoutErr) Timeout() bool { return e.timeout }

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr(nil))

	unavailable := []error{
		driver.ErrBadConn,
		fmt.Errorf("query: %w", mysqldrv.ErrInvalidConn),
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
		timeoutErr{timeout: true},
		context.DeadlineExceeded,
	}
	for _, err := range unavailable {
		assert.ErrorIs(t, wrapErr(err), model.ErrStoreUnavailable, err.Error())
	}

	for _, err := range []error{gorm.ErrRecordNotFound, timeoutErr{}, errors.New("Duplicate entry")} {
		got := wrapErr(err)
		assert.NotErrorIs(t, got, model.ErrStoreUnavailable, err.Error())
		assert.Equal(t, err, got)
	}
}
