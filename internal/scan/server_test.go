package scan

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/docscan/internal/acquire"
	"github.com/zombor/docscan/internal/extract"
	"github.com/zombor/docscan/internal/recognition"
)

// multipartBody builds an upload request body with a "file" part and extra fields
func multipartBody(filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

// ghttpAnyPath routes every request path to the server under test
var ghttpAnyPath = regexp.MustCompile(`^/`)

func decodeError(resp *http.Response) string {
	defer resp.Body.Close()
	var body map[string]string
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body["error"]
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		camera      *mockCamera
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewService(Deps{
			DB:           db,
			Storage:      storage,
			Preprocessor: &mockPreprocessor{},
			Recognizer:   recognizer,
			Camera:       camera,
			IDGenerator:  &mockIDGenerator{id: "id1"},
		})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AllowUnhandledRequests = false
		ghttpServer.RouteToHandler("GET", ghttpAnyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", ghttpAnyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("DELETE", ghttpAnyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("OPTIONS", ghttpAnyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("PUT", ghttpAnyPath, server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = &mockRecognizer{result: recognition.Result{Text: recognizedLicence, Confidence: 0.8}}
		camera = &mockCamera{frame: acquire.Frame{Data: pngBytes(40, 30), ContentType: "image/png"}}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	upload := func(path, filename, contentType string, data []byte, fields map[string]string) *http.Response {
		body, ct := multipartBody(filename, contentType, data, fields)
		resp, err := http.Post(ghttpServer.URL()+path, ct, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /api/scans", func() {
		It("should process the upload and return 201 with the scan", func() {
			resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))

			var scan Scan
			Expect(json.NewDecoder(resp.Body).Decode(&scan)).To(Succeed())
			Expect(scan.ID).To(Equal("id1"))
			Expect(scan.Fields.NationalID).To(Equal("29601012345678"))
			Expect(db.scans).To(HaveKey("id1"))
		})

		It("should apply rotate and crop", func() {
			resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30),
				map[string]string{"rotate": "90", "crop": "0,0,30,20"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var scan Scan
			Expect(json.NewDecoder(resp.Body).Decode(&scan)).To(Succeed())
			Expect(scan.Width).To(Equal(30))
			Expect(scan.Height).To(Equal(20))
		})

		It("should return 400 when no file is sent", func() {
			resp := upload("/api/scans", "", "", nil, map[string]string{"rotate": "0"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("no file was selected"))
		})

		It("should return 400 for an undecodable image", func() {
			resp := upload("/api/scans", "licence.jpg", "image/jpeg", []byte("garbage"), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("could not be decoded"))
		})

		It("should return 400 for a malformed crop", func() {
			resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), map[string]string{"crop": "1,2,3"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should return 400 for a crop outside the image", func() {
			resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), map[string]string{"crop": "20,20,50,50"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should return 400 for a malformed rotation", func() {
			resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), map[string]string{"rotate": "left"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("invalid rotate"))
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = recognition.ErrRecognitionFailed
			})

			It("should return 422", func() {
				resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(ContainSubstring("crop"))
			})
		})

		When("the engine is unavailable", func() {
			BeforeEach(func() {
				recognizer.err = recognition.ErrEngineUnavailable
			})

			It("should return 503", func() {
				resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(decodeError(resp)).To(Equal("OCR engine unavailable"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should return 500 without leaking the cause", func() {
				resp := upload("/api/scans", "licence.png", "image/png", pngBytes(40, 30), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp)).To(Equal("Internal server error"))
			})
		})
	})

	Describe("POST /api/scans/capture", func() {
		It("should capture and process a frame", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/scans/capture", "application/x-www-form-urlencoded", strings.NewReader("rotate=0"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var scan Scan
			Expect(json.NewDecoder(resp.Body).Decode(&scan)).To(Succeed())
			Expect(scan.Source).To(Equal(SourceCamera))
			Expect(camera.stopped).To(Equal(1))
		})

		When("the camera fails", func() {
			BeforeEach(func() {
				camera.openErr = errors.New("device busy")
			})

			It("should return 503 and suggest an upload", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/scans/capture", "", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(decodeError(resp)).To(ContainSubstring("upload"))
			})
		})
	})

	Describe("POST /api/preprocess", func() {
		It("should return a PNG", func() {
			resp := upload("/api/preprocess", "licence.png", "image/png", pngBytes(40, 30), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:4]).To(Equal([]byte("\x89PNG")))
			Expect(db.scans).To(BeEmpty())
		})
	})

	Describe("POST /api/extract", func() {
		It("should return the extracted fields", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/extract", "application/json",
				strings.NewReader(`{"text":"المبلغ 1,234.56\nVIN 1HGCM82633A004352"}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var data extract.ExtractedData
			Expect(json.NewDecoder(resp.Body).Decode(&data)).To(Succeed())
			Expect(data.Amounts).To(Equal([]float64{1234.56}))
			Expect(data.ChassisNumber).To(Equal("1HGCM82633A004352"))
		})

		It("should return 400 for an invalid body", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/extract", "application/json", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("GET /api/engine", func() {
		It("should report the engine state", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/engine")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var status map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&status)).To(Succeed())
			Expect(status).To(HaveKeyWithValue("engine", "mock"))
			Expect(status).To(HaveKeyWithValue("ready", true))
			Expect(status).To(HaveKeyWithValue("camera", true))
		})
	})

	Describe("scan history", func() {
		BeforeEach(func() {
			db.scans["id1"] = &Scan{ID: "id1", Filename: "id1_a.png", ContentType: "image/png"}
			db.scans["id2"] = &Scan{ID: "id2", Filename: "id2_b.png", ContentType: "image/png"}
			storage.files["id1_a.png"] = []byte("png data")
		})

		It("should list scans", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var scans []*Scan
			Expect(json.NewDecoder(resp.Body).Decode(&scans)).To(Succeed())
			Expect(scans).To(HaveLen(2))
		})

		It("should get one scan", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/id1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return 404 for an unknown scan", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(resp)).To(Equal("Scan not found"))
		})

		It("should serve the original file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/id1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("png data"))
		})

		It("should return 404 when the file is missing", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/id2/file")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should delete a scan", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/scans/id1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.scans).NotTo(HaveKey("id1"))
		})

		It("should return 405 for an unsupported method", func() {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/scans/id1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests without auth", func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
