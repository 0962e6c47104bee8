package base

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
)

const (
	responseMaxProtocolLength      = 64
	responseMaxStatusCodeLength    = 4
	responseMaxStatusMessageLength = 512
)

// StatusCode is the status code of a RTSP response.
type StatusCode int

// status codes.
const (
	StatusContinue                       StatusCode = 100
	StatusOK                             StatusCode = 200
	StatusMovedPermanently               StatusCode = 301
	StatusFound                          StatusCode = 302
	StatusSeeOther                       StatusCode = 303
	StatusNotModified                    StatusCode = 304
	StatusUseProxy                       StatusCode = 305
	StatusBadRequest                     StatusCode = 400
	StatusUnauthorized                   StatusCode = 401
	StatusPaymentRequired                StatusCode = 402
	StatusForbidden                      StatusCode = 403
	StatusNotFound                       StatusCode = 404
	StatusMethodNotAllowed               StatusCode = 405
	StatusNotAcceptable                  StatusCode = 406
	StatusProxyAuthRequired              StatusCode = 407
	StatusRequestTimeout                 StatusCode = 408
	StatusGone                           StatusCode = 410
	StatusPreconditionFailed             StatusCode = 412
	StatusRequestEntityTooLarge          StatusCode = 413
	StatusRequestURITooLong              StatusCode = 414
	StatusUnsupportedMediaType           StatusCode = 415
	StatusParameterNotUnderstood         StatusCode = 451
	StatusNotEnoughBandwidth             StatusCode = 453
	StatusSessionNotFound                StatusCode = 454
	StatusMethodNotValidInThisState      StatusCode = 455
	StatusHeaderFieldNotValidForResource StatusCode = 456
	StatusInvalidRange                   StatusCode = 457
	StatusParameterIsReadOnly            StatusCode = 458
	StatusAggregateOperationNotAllowed   StatusCode = 459
	StatusOnlyAggregateOperationAllowed  StatusCode = 460
	StatusUnsupportedTransport           StatusCode = 461
	StatusDestinationUnreachable         StatusCode = 462
	StatusInternalServerError            StatusCode = 500
	StatusNotImplemented                 StatusCode = 501
	StatusBadGateway                     StatusCode = 502
	StatusServiceUnavailable             StatusCode = 503
	StatusGatewayTimeout                 StatusCode = 504
	StatusRTSPVersionNotSupported        StatusCode = 505
	StatusOptionNotSupported             StatusCode = 551
)

var statusMessages = statusMessagesMap()

func statusMessagesMap() map[StatusCode]string {
	return map[StatusCode]string{
		StatusContinue:                       "Continue",
		StatusOK:                             "OK",
		StatusMovedPermanently:               "Moved Permanently",
		StatusFound:                          "Found",
		StatusSeeOther:                       "See Other",
		StatusNotModified:                    "Not Modified",
		StatusUseProxy:                       "Use Proxy",
		StatusBadRequest:                     "Bad Request",
		StatusUnauthorized:                   "Unauthorized",
		StatusPaymentRequired:                "Payment Required",
		StatusForbidden:                      "Forbidden",
		StatusNotFound:                       "Not Found",
		StatusMethodNotAllowed:               "Method Not Allowed",
		StatusNotAcceptable:                  "Not Acceptable",
		StatusProxyAuthRequired:              "Proxy Auth Required",
		StatusRequestTimeout:                 "Request Timeout",
		StatusGone:                           "Gone",
		StatusPreconditionFailed:             "Precondition Failed",
		StatusRequestEntityTooLarge:          "Request Entity Too Large",
		StatusRequestURITooLong:              "Request URI Too Long",
		StatusUnsupportedMediaType:           "Unsupported Media Type",
		StatusParameterNotUnderstood:         "Parameter Not Understood",
		StatusNotEnoughBandwidth:             "Not Enough Bandwidth",
		StatusSessionNotFound:                "Session Not Found",
		StatusMethodNotValidInThisState:      "Method Not Valid In This State",
		StatusHeaderFieldNotValidForResource: "Header Field Not Valid for Resource",
		StatusInvalidRange:                   "Invalid Range",
		StatusParameterIsReadOnly:            "Parameter Is Read-Only",
		StatusAggregateOperationNotAllowed:   "Aggregate Operation Not Allowed",
		StatusOnlyAggregateOperationAllowed:  "Only Aggregate Operation Allowed",
		StatusUnsupportedTransport:           "Unsupported Transport",
		StatusDestinationUnreachable:         "Destination Unreachable",
		StatusInternalServerError:            "Internal Server Error",
		StatusNotImplemented:                 "Not Implemented",
		StatusBadGateway:                     "Bad Gateway",
		StatusServiceUnavailable:             "Service Unavailable",
		StatusGatewayTimeout:                 "Gateway Timeout",
		StatusRTSPVersionNotSupported:        "RTSP Version Not Supported",
		StatusOptionNotSupported:             "Option Not Supported",
	}
}

// Response is a RTSP response.
type Response struct {
	// numeric status code
	StatusCode StatusCode

	// status message
	StatusMessage string

	// map of header values
	Header Header

	// optional body
	Body []byte
}

// Read reads a response.
func (res *Response) Read(rb *bufio.Reader) error {
	byts, err := readBytesLimited(rb, ' ', responseMaxProtocolLength)
	if err != nil {
		return err
	}
	proto := byts[:len(byts)-1]

	if string(proto) != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)
	}

	byts, err = readBytesLimited(rb, ' ', responseMaxStatusCodeLength)
	if err != nil {
		return err
	}
	statusCodeStr := string(byts[:len(byts)-1])

	statusCode64, err := strconv.ParseInt(statusCodeStr, 10, 32)
	if err != nil {
		return fmt.Errorf("unable to parse status code")
	}
	res.StatusCode = StatusCode(statusCode64)

	byts, err = readBytesLimited(rb, '\r', responseMaxStatusMessageLength)
	if err != nil {
		return err
	}
	res.StatusMessage = string(byts[:len(byts)-1])

	if len(res.StatusMessage) == 0 {
		return fmt.Errorf("empty status message")
	}

	err = readByteEqual(rb, '\n')
	if err != nil {
		return err
	}

	err = res.Header.read(rb)
	if err != nil {
		return err
	}

	return (*body)(&res.Body).read(res.Header, rb)
}

// Write writes a response.
func (res Response) Write(wb *bufio.Writer) error {
	if res.StatusMessage == "" {
		if msg, ok := statusMessages[res.StatusCode]; ok {
			res.StatusMessage = msg
		}
	}

	_, err := wb.Write([]byte(rtspProtocol10 + " " +
		strconv.FormatInt(int64(res.StatusCode), 10) + " " + res.StatusMessage + "\r\n"))
	if err != nil {
		return err
	}

	if res.Header == nil {
		res.Header = make(Header)
	}
	res.Header["Content-Length"] = HeaderValue{strconv.FormatInt(int64(len(res.Body)), 10)}

	err = res.Header.write(wb)
	if err != nil {
		return err
	}

	err = body(res.Body).write(wb)
	if err != nil {
		return err
	}

	return wb.Flush()
}

// String implements fmt.Stringer.
func (res Response) String() string {
	var buf bytes.Buffer
	res.Write(bufio.NewWriter(&buf)) //nolint:errcheck
	return buf.String()
}
